package db

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VectorDimensions fixes the pgvector column width to the embedding
// backend's dense vector size.
const VectorDimensions = 1024

// VectorLiteral renders a float slice as a pgvector text literal.
func VectorLiteral(values []float64) (string, error) {
	if len(values) != VectorDimensions {
		return "", fmt.Errorf("expected %d dimensions, got %d", VectorDimensions, len(values))
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

// ParseVectorLiteral decodes a pgvector text literal back into floats.
func ParseVectorLiteral(literal string) ([]float64, error) {
	trimmed := strings.TrimSpace(literal)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return nil, fmt.Errorf("malformed vector literal")
	}
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
	if strings.TrimSpace(trimmed) == "" {
		return nil, fmt.Errorf("empty vector literal")
	}

	parts := strings.Split(trimmed, ",")
	values := make([]float64, 0, len(parts))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		values = append(values, value)
	}
	return values, nil
}
