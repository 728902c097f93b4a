// Package main trains the waste classifier on ./dataset/raw and exports the
// best epoch to model.born and model.onnx.
//
// The command takes no arguments; every tunable is a constant in
// internal/config.
package main

import (
	"os"

	"k8s.io/klog/v2"

	"github.com/born-ml/wastenet/internal/config"
	"github.com/born-ml/wastenet/internal/trainer"
)

func main() {
	defer klog.Flush()

	cfg := config.Default()
	t := trainer.New(cfg, os.Stdout)
	klog.V(1).Infof("run %s: data=%s epochs=%d batch=%d", t.RunID(), cfg.DataDir, cfg.Epochs, cfg.BatchSize)

	result, err := t.Run()
	if err != nil {
		klog.Errorf("training failed: %v", err)
		klog.Flush()
		os.Exit(1)
	}
	if !result.Saved() {
		klog.Warningf("no epoch reached a validation accuracy above zero; nothing was saved")
	}
}
