package handler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// DataProcessingPayload represents the payload for data processing tasks
type DataProcessingPayload struct {
	InputData  []float64      `json:"input_data"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
}

// DataProcessor defines the interface for data processing operations
type DataProcessor interface {
	Process(ctx context.Context, data []float64, params map[string]any) (any, error)
}

// DataProcessingHandler handles data processing tasks
type DataProcessingHandler struct {
	logger     *zap.Logger
	processors map[string]DataProcessor
}

// NewDataProcessingHandler creates a new data processing handler
func NewDataProcessingHandler(logger *zap.Logger) *DataProcessingHandler {
	h := &DataProcessingHandler{
		logger:     logger,
		processors: make(map[string]DataProcessor),
	}

	h.RegisterProcessor("filter", &FilterProcessor{})
	h.RegisterProcessor("transform", &TransformProcessor{})
	h.RegisterProcessor("aggregate", &AggregateProcessor{})

	return h
}

// RegisterProcessor registers a new data processor
func (h *DataProcessingHandler) RegisterProcessor(operation string, processor DataProcessor) {
	h.processors[operation] = processor
}

// Handle performs the data processing task
func (h *DataProcessingHandler) Handle(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	var payload DataProcessingPayload
	if err := decodePayload(kwargs, &payload); err != nil {
		return nil, err
	}

	processor, ok := h.processors[payload.Operation]
	if !ok {
		return nil, fmt.Errorf("unknown operation: %s", payload.Operation)
	}

	h.logger.Info("Processing data",
		zap.String("operation", payload.Operation),
		zap.Int("input_size", len(payload.InputData)))

	return processor.Process(ctx, payload.InputData, payload.Parameters)
}

// FilterProcessor keeps values within the [min, max] parameter bounds
type FilterProcessor struct{}

func (p *FilterProcessor) Process(ctx context.Context, data []float64, params map[string]any) (any, error) {
	min, max := paramFloat(params, "min", 0), paramFloat(params, "max", 0)
	hasMin, hasMax := paramPresent(params, "min"), paramPresent(params, "max")

	out := make([]float64, 0, len(data))
	for _, v := range data {
		if hasMin && v < min {
			continue
		}
		if hasMax && v > max {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// TransformProcessor applies a scale and offset to every value
type TransformProcessor struct{}

func (p *TransformProcessor) Process(ctx context.Context, data []float64, params map[string]any) (any, error) {
	scale := paramFloat(params, "scale", 1)
	offset := paramFloat(params, "offset", 0)

	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = v*scale + offset
	}
	return out, nil
}

// AggregateProcessor reduces the input to summary statistics
type AggregateProcessor struct{}

func (p *AggregateProcessor) Process(ctx context.Context, data []float64, params map[string]any) (any, error) {
	if len(data) == 0 {
		return map[string]float64{"count": 0}, nil
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range data {
		sum += v
	}

	return map[string]float64{
		"count": float64(len(data)),
		"sum":   sum,
		"mean":  sum / float64(len(data)),
		"min":   sorted[0],
		"max":   sorted[len(sorted)-1],
	}, nil
}

func paramFloat(params map[string]any, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return fallback
}

func paramPresent(params map[string]any, key string) bool {
	_, ok := params[key]
	return ok
}
