package oneformer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// ImageNet statistics used to normalize pixel values.
var (
	imageMean = [3]float32{0.485, 0.456, 0.406}
	imageStd  = [3]float32{0.229, 0.224, 0.225}
)

// sizeDivisor pads spatial dimensions to a multiple of the deepest
// backbone stride.
const sizeDivisor = 32

// Tokenizer converts text into token ids. The production tokenizer is
// a BPE encoding; tests substitute a deterministic stub.
type Tokenizer interface {
	Encode(text string) []int
}

// bpeTokenizer wraps a tiktoken BPE encoding.
type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewBPETokenizer returns the default byte-pair tokenizer.
func NewBPETokenizer() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load bpe encoding: %w", err)
	}
	return &bpeTokenizer{enc: enc}, nil
}

func (t *bpeTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// ProcessorOutput is model-ready input.
type ProcessorOutput[B tensor.Backend] struct {
	// PixelValues is [batch, 3, H, W], normalized and padded.
	PixelValues *tensor.Tensor[float32, B]
	// PixelMask is [batch, H, W], 1 on valid pixels and 0 on padding.
	PixelMask *tensor.Tensor[float32, B]
	// TaskInputs is [batch, task_seq_len].
	TaskInputs *tensor.Tensor[int32, B]
}

// Processor prepares images and task descriptions for the model.
type Processor[B tensor.Backend] struct {
	cfg       *Config
	tokenizer Tokenizer
	backend   B
}

func NewProcessor[B tensor.Backend](cfg *Config, tokenizer Tokenizer, backend B) *Processor[B] {
	return &Processor[B]{cfg: cfg, tokenizer: tokenizer, backend: backend}
}

// Process normalizes and pads a batch of [3, H, W] images and tokenizes
// one task name ("semantic", "instance" or "panoptic") per image.
func (p *Processor[B]) Process(images []*tensor.Tensor[float32, B], tasks []string) (*ProcessorOutput[B], error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("processor: no images")
	}
	if len(tasks) != len(images) {
		return nil, fmt.Errorf("processor: %d tasks for %d images", len(tasks), len(images))
	}

	maxH, maxW := 0, 0
	for _, img := range images {
		s := img.Shape()
		if len(s) != 3 || s[0] != 3 {
			return nil, fmt.Errorf("processor: image must be [3, h, w], got %v", s)
		}
		if s[1] > maxH {
			maxH = s[1]
		}
		if s[2] > maxW {
			maxW = s[2]
		}
	}
	padH := ((maxH + sizeDivisor - 1) / sizeDivisor) * sizeDivisor
	padW := ((maxW + sizeDivisor - 1) / sizeDivisor) * sizeDivisor

	batch := len(images)
	pixels := make([]float32, batch*3*padH*padW)
	mask := make([]float32, batch*padH*padW)
	for b, img := range images {
		h, w := img.Shape()[1], img.Shape()[2]
		data := img.Data()
		for c := 0; c < 3; c++ {
			for y := 0; y < h; y++ {
				srcRow := data[(c*h+y)*w : (c*h+y)*w+w]
				dstRow := pixels[((b*3+c)*padH+y)*padW : ((b*3+c)*padH+y)*padW+w]
				for x, v := range srcRow {
					dstRow[x] = (v - imageMean[c]) / imageStd[c]
				}
			}
		}
		for y := 0; y < h; y++ {
			row := mask[(b*padH+y)*padW : (b*padH+y)*padW+w]
			for x := range row {
				row[x] = 1
			}
		}
	}

	taskIDs := make([]int32, 0, batch*p.cfg.TaskSeqLen)
	for _, task := range tasks {
		ids := p.tokenize("the task is " + task)
		taskIDs = append(taskIDs, ids...)
	}

	pv, err := tensor.FromSlice(pixels, tensor.Shape{batch, 3, padH, padW}, p.backend)
	if err != nil {
		return nil, err
	}
	pm, err := tensor.FromSlice(mask, tensor.Shape{batch, padH, padW}, p.backend)
	if err != nil {
		return nil, err
	}
	ti, err := tensor.FromSlice(taskIDs, tensor.Shape{batch, p.cfg.TaskSeqLen}, p.backend)
	if err != nil {
		return nil, err
	}
	return &ProcessorOutput[B]{PixelValues: pv, PixelMask: pm, TaskInputs: ti}, nil
}

// TokenizeTexts builds text_inputs [batch, num_texts, task_seq_len]
// from per-image class prompts. Short prompt lists are padded by
// repeating the last entry; empty lists use a generic prompt.
func (p *Processor[B]) TokenizeTexts(texts [][]string) (*tensor.Tensor[int32, B], error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("processor: no texts")
	}
	numTexts := p.cfg.NumTexts()
	seq := p.cfg.TaskSeqLen

	ids := make([]int32, 0, len(texts)*numTexts*seq)
	for _, prompts := range texts {
		for i := 0; i < numTexts; i++ {
			prompt := "an object"
			if len(prompts) > 0 {
				if i < len(prompts) {
					prompt = prompts[i]
				} else {
					prompt = prompts[len(prompts)-1]
				}
			}
			ids = append(ids, p.tokenize("a photo of a "+prompt)...)
		}
	}
	return tensor.FromSlice(ids, tensor.Shape{len(texts), numTexts, seq}, p.backend)
}

// tokenize encodes text and pads or truncates to TaskSeqLen. Token ids
// must fit the text-encoder embedding table; ids beyond VocabSize (the
// BPE encoding's id space can be larger) wrap around into range.
func (p *Processor[B]) tokenize(text string) []int32 {
	raw := p.tokenizer.Encode(text)
	vocab := p.cfg.TextEncoder.VocabSize
	out := make([]int32, p.cfg.TaskSeqLen)
	for i := 0; i < len(raw) && i < len(out); i++ {
		out[i] = int32(raw[i] % vocab)
	}
	return out
}
