// Package server exposes the classifier over HTTP.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/born-ml/wastenet/internal/dataset"
	"github.com/born-ml/wastenet/internal/history"
	"github.com/born-ml/wastenet/internal/inference"
	"github.com/born-ml/wastenet/internal/onnx"
)

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// Config wires the server's collaborators.
type Config struct {
	Predictor *inference.Predictor

	// Graph is the exported ONNX model reported by GET /model; optional.
	Graph *onnx.Model

	// History records predictions; nil disables recording.
	History history.Store

	MaxUploadBytes int64
}

// APIs holds the HTTP handlers.
type APIs struct {
	predictor *inference.Predictor
	graph     *onnx.Model
	history   history.Store
	maxUpload int64
}

// HTTPError is the JSON body of every error response.
type HTTPError struct {
	Error string `json:"error"`
}

// Error writes an error response and stops the handler chain.
func Error(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, HTTPError{Error: err.Error()})
}

// New builds the router.
func New(cfg Config) *gin.Engine {
	a := &APIs{
		predictor: cfg.Predictor,
		graph:     cfg.Graph,
		history:   cfg.History,
		maxUpload: cfg.MaxUploadBytes,
	}
	if a.history == nil {
		a.history = history.Nop{}
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), requestID())
	if a.maxUpload > 0 {
		r.MaxMultipartMemory = a.maxUpload
	}

	r.GET("/health", a.Health)
	r.GET("/model", a.ShowModel)
	r.POST("/predict", a.Predict)
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Health reports liveness.
func (a *APIs) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GraphInfo describes the exported ONNX graph.
type GraphInfo struct {
	Opset    int64             `json:"opset"`
	Input    onnx.Signature    `json:"input"`
	Output   onnx.Signature    `json:"output"`
	Ops      []string          `json:"ops"`
	Metadata map[string]string `json:"metadata"`
}

// ModelInfo is the body of GET /model.
type ModelInfo struct {
	inference.Info
	ONNX *GraphInfo `json:"onnx,omitempty"`
}

// ShowModel returns the served model's description.
func (a *APIs) ShowModel(c *gin.Context) {
	info := ModelInfo{Info: a.predictor.Info()}
	if a.graph != nil {
		in, out := a.graph.Signature()
		info.ONNX = &GraphInfo{
			Opset:    a.graph.OpsetVersion(),
			Input:    in,
			Output:   out,
			Ops:      a.graph.OpTypes(),
			Metadata: a.graph.Metadata(),
		}
	}
	c.JSON(http.StatusOK, info)
}

// PredictResponse is the body of a successful POST /predict.
type PredictResponse struct {
	RequestID string `json:"request_id"`
	inference.Prediction
}

// Predict classifies the multipart "image" upload.
func (a *APIs) Predict(c *gin.Context) {
	if a.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload)
	}

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, fmt.Errorf("image exceeds the %d byte upload limit", tooLarge.Limit))
			return
		}
		Error(c, http.StatusBadRequest, errors.New("please upload an image file"))
		return
	}
	file, err := header.Open()
	if err != nil {
		Error(c, http.StatusInternalServerError, errors.New("failed to process image"))
		return
	}
	defer file.Close()

	img, err := dataset.Decode(file)
	if err != nil {
		Error(c, http.StatusBadRequest, errors.New("invalid image format"))
		return
	}

	pred, err := a.predictor.Predict(img)
	if err != nil {
		Error(c, http.StatusInternalServerError, err)
		return
	}

	id := c.GetString(requestIDKey)
	err = a.history.Insert(c.Request.Context(), history.Record{
		RequestID:   id,
		Filename:    header.Filename,
		ClassIndex:  pred.ClassIndex,
		Label:       pred.Label,
		Probability: pred.Probability,
		LatencyMs:   pred.TimeMs,
		Backend:     a.predictor.Info().Backend,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		klog.Errorf("request %s: %v", id, err)
	}

	c.JSON(http.StatusOK, PredictResponse{RequestID: id, Prediction: pred})
}
