// Package main serves a trained waste classifier over HTTP.
//
// Usage:
//
//	wastenet-serve -config serve.yaml
//
// Endpoints: GET /health, GET /model and POST /predict with a multipart
// "image" field. The "backend" key selects whether /predict runs the .born
// checkpoint or the exported ONNX graph.
package main

import (
	"flag"
	"os"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/born-ml/wastenet/internal/config"
	"github.com/born-ml/wastenet/internal/history"
	"github.com/born-ml/wastenet/internal/inference"
	"github.com/born-ml/wastenet/internal/onnx"
	"github.com/born-ml/wastenet/internal/server"
)

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "", "Path to the YAML serve configuration")
	flag.Parse()
	defer klog.Flush()

	if err := run(*configPath); err != nil {
		klog.Errorf("Error: %v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadServeConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	predictor, err := inference.Open(cfg)
	if err != nil {
		return err
	}
	info := predictor.Info()
	klog.Infof("serving %s backend from %s: %d classes, image size %d", info.Backend, info.Path, info.NumClasses, info.ImageSize)

	var graph *onnx.Model
	if cfg.ONNXPath != "" {
		graph, err = onnx.LoadFile(cfg.ONNXPath)
		if err != nil {
			return err
		}
		klog.Infof("loaded %s: opset %d, ops %v", cfg.ONNXPath, graph.OpsetVersion(), graph.OpTypes())
	}

	store, err := history.Open(cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()
	if cfg.History.DSN != "" {
		klog.Infof("recording predictions to table %s", cfg.History.Table)
	}

	r := server.New(server.Config{
		Predictor:      predictor,
		Graph:          graph,
		History:        store,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
	})
	klog.Infof("listening on %s", cfg.Addr)
	return r.Run(cfg.Addr)
}
