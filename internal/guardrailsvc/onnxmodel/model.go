// Package onnxmodel is the concrete implementation of guardrailsvc.Model:
// it runs the guardrail classifier's causal language model (exported to
// ONNX) through a bounded greedy decode loop and pattern-matches the
// generated continuation, mirroring LlamaGuardModel.predict_batch from the
// Python reference service.
package onnxmodel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	"github.com/viterin/vek"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	maxNewTokens   = 20
	maxInputTokens = 512
)

// Config points at the on-disk artifacts for the exported guardrail model.
type Config struct {
	ModelPath     string // .onnx export of the causal LM
	TokenizerPath string // tokenizer.json understood by daulet/tokenizers
	PadTokenID    int64
	EOSTokenID    int64
}

// Model wraps an ONNX Runtime session plus its tokenizer. It satisfies
// guardrailsvc.Model so the aggregator can drive it without knowing
// anything about ONNX or tokenization.
type Model struct {
	// onnxruntime_go sessions are not safe for concurrent Run calls, and
	// the greedy decode loop reuses the same session across steps, so
	// every generate call holds mu for its whole decode loop.
	mu sync.Mutex

	tok     *tokenizers.Tokenizer
	session *ort.DynamicAdvancedSession

	padID int64
	eosID int64
}

// Load initializes the ONNX Runtime environment, opens the tokenizer and
// the exported model, and returns a ready-to-use Model. Call Close when
// the guardrail service shuts down.
func Load(cfg Config) (*Model, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime environment: %w", err)
	}

	tok, err := tokenizers.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		tok.Close()
		return nil, fmt.Errorf("load onnx session %s: %w", cfg.ModelPath, err)
	}

	return &Model{
		tok:     tok,
		session: session,
		padID:   cfg.PadTokenID,
		eosID:   cfg.EOSTokenID,
	}, nil
}

// Close releases the ONNX session and the tokenizer's native resources.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
	}
	if m.tok != nil {
		m.tok.Close()
	}
	return nil
}

func formatPrompt(text string) string {
	return fmt.Sprintf("[INPUT]: %s [OUTPUT]:", text)
}

// PredictBatch implements guardrailsvc.Model. Every input is encoded,
// generated, and decoded independently rather than packed into one padded
// tensor: a static single-sequence ONNX export is far simpler to run
// correctly than a dynamically batched generate() call, at the cost of
// some throughput the aggregator's own batching already recovers upstream.
func (m *Model) PredictBatch(ctx context.Context, inputs []string) ([]string, error) {
	out := make([]string, len(inputs))
	for i, text := range inputs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		generated, err := m.generate(formatPrompt(text))
		if err != nil {
			return nil, fmt.Errorf("generate for input %d: %w", i, err)
		}

		if strings.Contains(strings.ToLower(generated), "unsafe") {
			out[i] = "unsafe"
		} else {
			out[i] = "safe"
		}
	}
	return out, nil
}

// generate runs up to maxNewTokens steps of greedy decoding, appending one
// token per forward pass and stopping early on EOS. It acquires mu for
// the whole loop, so concurrent calls run one at a time.
func (m *Model) generate(prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.encode(prompt)
	if err != nil {
		return "", err
	}

	generated := make([]uint32, 0, maxNewTokens)

	for step := 0; step < maxNewTokens; step++ {
		logits, err := m.forward(ids)
		if err != nil {
			return "", fmt.Errorf("forward pass at step %d: %w", step, err)
		}

		next := argmaxToken(logits)
		if next == uint32(m.eosID) {
			break
		}

		ids = append(ids, int64(next))
		generated = append(generated, next)
	}

	return m.tok.Decode(generated, true), nil
}

func (m *Model) encode(prompt string) ([]int64, error) {
	encoding := m.tok.EncodeWithOptions(prompt, false, tokenizers.WithReturnTypeIDs())
	if len(encoding.IDs) == 0 {
		return nil, fmt.Errorf("tokenizer produced no input ids for prompt")
	}

	ids := make([]int64, len(encoding.IDs))
	for i, id := range encoding.IDs {
		ids[i] = int64(id)
	}
	if len(ids) > maxInputTokens {
		ids = ids[len(ids)-maxInputTokens:]
	}
	return ids, nil
}

// forward runs one step of the causal LM over the current token sequence
// and returns the logits for the final position, the slice the next token
// is chosen from.
func (m *Model) forward(ids []int64) ([]float32, error) {
	seqLen := int64(len(ids))

	attention := make([]int64, len(ids))
	for i := range attention {
		attention[i] = 1
	}

	inputShape := ort.NewShape(1, seqLen)

	inputTensor, err := ort.NewTensor(inputShape, ids)
	if err != nil {
		return nil, fmt.Errorf("build input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	attentionTensor, err := ort.NewTensor(inputShape, attention)
	if err != nil {
		return nil, fmt.Errorf("build attention_mask tensor: %w", err)
	}
	defer attentionTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, vocabSize))
	if err != nil {
		return nil, fmt.Errorf("allocate logits tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.Value{inputTensor, attentionTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("run onnx session: %w", err)
	}

	data := outputTensor.GetData()
	lastPosition := data[(seqLen-1)*vocabSize : seqLen*vocabSize]

	// Copy out of the tensor's backing buffer before it is destroyed above.
	logits := make([]float32, len(lastPosition))
	copy(logits, lastPosition)
	return logits, nil
}

// vocabSize is fixed by the exported model's output head. It is a package
// constant rather than a Config field because changing it means exporting
// a different model, not reconfiguring this one.
const vocabSize = 32128

// argmaxToken picks the highest-probability next token. vek.ArgMax runs
// the scan as a vectorized loop rather than a plain Go for-range.
func argmaxToken(logits []float32) uint32 {
	return uint32(vek.ArgMax(logits))
}
