// Package morton implements the Quantizer & Morton Codec: reducing a full
// embedding to D dimensions, quantizing each to B bits, and interleaving the
// quantized dims MSB-first into a single D*B-bit Z-order key.
package morton

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"sirc/internal/logging"
	"sirc/internal/model"
)

// degenerateEpsilon widens a quant dimension whose observed range collapses
// to a point, so normalisation never divides by zero.
const degenerateEpsilon = 1e-6

// Reduction names the dimensionality-reduction strategy.
const (
	ReductionFirst    = "first"
	ReductionBlockAvg = "block_avg"
)

// ComputeQuantParams derives per-project quantization bounds from one or more
// sample embeddings (spec.md §4.1). Non-finite values are treated as 0.
// Degenerate dims (max-min < epsilon) are widened so normalisation stays
// well-defined.
func ComputeQuantParams(projectID string, samples [][]float32, d, b int, reduction string) (*model.QuantParams, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("morton: ComputeQuantParams requires at least one sample")
	}
	if d <= 0 || b <= 0 {
		return nil, fmt.Errorf("morton: d and b must be positive, got d=%d b=%d", d, b)
	}
	if reduction != ReductionFirst && reduction != ReductionBlockAvg {
		return nil, fmt.Errorf("morton: unknown reduction %q", reduction)
	}

	mins := make([]float64, d)
	maxs := make([]float64, d)
	for i := range mins {
		mins[i] = math.Inf(1)
		maxs[i] = math.Inf(-1)
	}

	for _, sample := range samples {
		reduced := reduce(sample, d, reduction)
		for i, v := range reduced {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				if v < mins[i] {
					mins[i] = v
				}
				if v > maxs[i] {
					maxs[i] = v
				}
			} else {
				if 0 < mins[i] {
					mins[i] = 0
				}
				if 0 > maxs[i] {
					maxs[i] = 0
				}
			}
		}
	}

	for i := range mins {
		if math.IsInf(mins[i], 0) {
			mins[i] = 0
		}
		if math.IsInf(maxs[i], 0) {
			maxs[i] = 0
		}
		if maxs[i]-mins[i] < degenerateEpsilon {
			maxs[i] = mins[i] + degenerateEpsilon
		}
	}

	logging.MortonDebug("ComputeQuantParams: project=%s d=%d b=%d reduction=%s samples=%d", projectID, d, b, reduction, len(samples))

	return &model.QuantParams{
		ProjectID: projectID,
		D:         d,
		B:         b,
		Mins:      mins,
		Maxs:      maxs,
		Reduction: reduction,
	}, nil
}

// reduce maps a full-width embedding to a d-dim vector using the named
// strategy: "first" keeps the first d values (zero-padding short inputs);
// "block_avg" averages ceil(len/d)-sized chunks, the last possibly shorter.
func reduce(embedding []float32, d int, reduction string) []float64 {
	out := make([]float64, d)
	if reduction == ReductionFirst {
		for i := 0; i < d; i++ {
			if i < len(embedding) {
				out[i] = float64(embedding[i])
			}
		}
		return out
	}

	// block_avg
	n := len(embedding)
	if n == 0 {
		return out
	}
	chunk := (n + d - 1) / d
	for i := 0; i < d; i++ {
		start := i * chunk
		if start >= n {
			continue
		}
		end := start + chunk
		if end > n {
			end = n
		}
		var sum float64
		count := 0
		for _, v := range embedding[start:end] {
			sum += float64(v)
			count++
		}
		if count > 0 {
			out[i] = sum / float64(count)
		}
	}
	return out
}

// Quantize reduces, clamp-normalises to [0,1], then quantizes embedding into
// D integers each in [0, 2^B - 1] per params.
func Quantize(embedding []float32, params *model.QuantParams) []int {
	reduced := reduce(embedding, params.D, params.Reduction)
	maxVal := (1 << uint(params.B)) - 1

	q := make([]int, params.D)
	for i, v := range reduced {
		norm := (v - params.Mins[i]) / (params.Maxs[i] - params.Mins[i])
		if norm < 0 {
			norm = 0
		}
		if norm > 1 {
			norm = 1
		}
		q[i] = int(math.Floor(norm * float64(maxVal)))
		if q[i] > maxVal {
			q[i] = maxVal
		}
	}
	return q
}

// Key computes the hex Morton key for embedding under params: quantize, then
// interleave bits MSB-first across dims into a D*B-bit unsigned integer, and
// render as lowercase hex zero-padded to ceil(D*B/4) characters so the key
// sorts correctly as a plain string.
func Key(embedding []float32, params *model.QuantParams) string {
	q := Quantize(embedding, params)
	return interleave(q, params.B)
}

// interleave combines D quantized values, each B bits wide, into a single
// D*B-bit big.Int by emitting, for each bit position from B-1 down to 0, the
// corresponding bit of every dim in order. This produces the canonical
// Z-order curve over D-dim quantized space.
func interleave(q []int, b int) string {
	d := len(q)
	totalBits := d * b
	result := new(big.Int)

	bitIndex := totalBits - 1
	for bitPos := b - 1; bitPos >= 0; bitPos-- {
		for dim := 0; dim < d; dim++ {
			bit := (q[dim] >> uint(bitPos)) & 1
			if bit != 0 {
				result.SetBit(result, bitIndex, 1)
			}
			bitIndex--
		}
	}

	hexChars := (totalBits + 3) / 4
	hex := result.Text(16)
	if len(hex) < hexChars {
		hex = strings.Repeat("0", hexChars-len(hex)) + hex
	}
	return hex
}

// HexBits returns the number of bits the hex key for params encodes, i.e.
// D*B, used by callers computing prefix lengths for range scans.
func HexBits(params *model.QuantParams) int {
	return params.D * params.B
}

// HexLen returns the zero-padded hex string length for params: ceil(D*B/4).
func HexLen(params *model.QuantParams) int {
	return (HexBits(params) + 3) / 4
}
