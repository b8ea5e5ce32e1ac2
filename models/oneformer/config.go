// Package oneformer implements a multi-modal universal-segmentation
// transformer. One model handles semantic, instance and panoptic
// segmentation, conditioned on a tokenized task description.
//
// The model is split the usual way: a convolutional backbone produces
// multi-scale features, a pixel decoder fuses them into high-resolution
// mask features, and a query-based transformer decoder turns learned,
// task-conditioned queries into class and mask predictions. A text
// encoder embeds per-class text prompts for the contrastive loss term
// used during training.
package oneformer

import (
	"encoding/json"
	"fmt"
	"os"
)

// BackboneConfig configures the convolutional backbone. The backbone has
// four stages producing features at strides 4, 8, 16 and 32.
type BackboneConfig struct {
	// NumChannels is the number of input image channels.
	NumChannels int `json:"num_channels"`

	// EmbedDim is the channel width of the first stage. When HiddenSizes
	// is empty, stage i uses EmbedDim << i channels.
	EmbedDim int `json:"embed_dim"`

	// Depths is the number of blocks per stage.
	Depths []int `json:"depths"`

	// HiddenSizes overrides the per-stage channel widths.
	HiddenSizes []int `json:"hidden_sizes,omitempty"`
}

// StageWidths returns the channel width of every backbone stage.
func (c *BackboneConfig) StageWidths() []int {
	if len(c.HiddenSizes) == len(c.Depths) {
		return c.HiddenSizes
	}
	widths := make([]int, len(c.Depths))
	for i := range widths {
		widths[i] = c.EmbedDim << i
	}
	return widths
}

// TextEncoderConfig configures the text encoder used for task and class
// prompts.
type TextEncoderConfig struct {
	VocabSize     int `json:"vocab_size"`
	Width         int `json:"width"`
	ContextLength int `json:"context_length"`
	NumLayers     int `json:"num_layers"`
	ProjLayers    int `json:"proj_layers"`

	// NCtx is the number of learned context queries appended to the
	// encoded text entries; together they total NumQueries.
	NCtx int `json:"n_ctx"`
}

// Config holds every hyperparameter of the model. Zero values are not
// meaningful; construct with NewConfig and override as needed.
type Config struct {
	Backbone    *BackboneConfig    `json:"backbone_config"`
	TextEncoder *TextEncoderConfig `json:"text_encoder_config"`

	NumQueries int `json:"num_queries"`
	NumLabels  int `json:"num_labels"`

	HiddenDim int `json:"hidden_dim"`
	ConvDim   int `json:"conv_dim"`
	MaskDim   int `json:"mask_dim"`

	EncoderLayers         int `json:"encoder_layers"`
	EncoderFeedforwardDim int `json:"encoder_feedforward_dim"`
	DecoderLayers         int `json:"decoder_layers"`
	DimFeedforward        int `json:"dim_feedforward"`
	NumAttentionHeads     int `json:"num_attention_heads"`

	TaskSeqLen int `json:"task_seq_len"`

	Strides      []int `json:"strides"`
	CommonStride int   `json:"common_stride"`

	NoObjectWeight         float32 `json:"no_object_weight"`
	ClassWeight            float32 `json:"class_weight"`
	MaskWeight             float32 `json:"mask_weight"`
	DiceWeight             float32 `json:"dice_weight"`
	ContrastiveWeight      float32 `json:"contrastive_weight"`
	ContrastiveTemperature float32 `json:"contrastive_temperature"`

	InitStd       float32 `json:"init_std"`
	InitXavierStd float32 `json:"init_xavier_std"`
	LayerNormEps  float32 `json:"layer_norm_eps"`

	IgnoreValue int  `json:"ignore_value"`
	IsTraining  bool `json:"is_training"`
}

// NewConfig returns a Config with the reference hyperparameters of the
// published checkpoints.
func NewConfig() *Config {
	return &Config{
		Backbone: &BackboneConfig{
			NumChannels: 3,
			EmbedDim:    96,
			Depths:      []int{3, 3, 9, 3},
		},
		TextEncoder: &TextEncoderConfig{
			VocabSize:     49408,
			Width:         256,
			ContextLength: 77,
			NumLayers:     6,
			ProjLayers:    2,
			NCtx:          16,
		},
		NumQueries:             150,
		NumLabels:              150,
		HiddenDim:              256,
		ConvDim:                256,
		MaskDim:                256,
		EncoderLayers:          6,
		EncoderFeedforwardDim:  1024,
		DecoderLayers:          10,
		DimFeedforward:         2048,
		NumAttentionHeads:      8,
		TaskSeqLen:             77,
		Strides:                []int{4, 8, 16, 32},
		CommonStride:           4,
		NoObjectWeight:         0.1,
		ClassWeight:            2.0,
		MaskWeight:             5.0,
		DiceWeight:             5.0,
		ContrastiveWeight:      0.5,
		ContrastiveTemperature: 0.07,
		InitStd:                0.02,
		InitXavierStd:          1.0,
		LayerNormEps:           1e-5,
		IgnoreValue:            255,
	}
}

// Validate checks the configuration for internal consistency and fills
// nil sub-configurations with their defaults.
func (c *Config) Validate() error {
	if c.Backbone == nil {
		c.Backbone = NewConfig().Backbone
	}
	if c.TextEncoder == nil {
		c.TextEncoder = NewConfig().TextEncoder
	}
	if len(c.Backbone.Depths) != 4 {
		return fmt.Errorf("config: backbone must have 4 stages, got %d", len(c.Backbone.Depths))
	}
	if c.NumQueries <= 0 || c.NumLabels <= 0 {
		return fmt.Errorf("config: num_queries and num_labels must be positive")
	}
	if c.HiddenDim%c.NumAttentionHeads != 0 {
		return fmt.Errorf("config: hidden_dim %d not divisible by num_attention_heads %d",
			c.HiddenDim, c.NumAttentionHeads)
	}
	if c.TextEncoder.NCtx >= c.NumQueries {
		return fmt.Errorf("config: text_encoder n_ctx %d must be below num_queries %d",
			c.TextEncoder.NCtx, c.NumQueries)
	}
	return nil
}

// NumTexts is the number of text prompts the loss expects per image:
// the learned context queries make up the rest of NumQueries.
func (c *Config) NumTexts() int {
	return c.NumQueries - c.TextEncoder.NCtx
}

// LoadConfig reads a Config from a checkpoint config.json file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as checkpoint-style JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
