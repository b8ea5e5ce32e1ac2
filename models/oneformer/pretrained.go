package oneformer

import (
	"context"
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/hub"
	"github.com/uniseg-ml/uniseg/internal/loader"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Checkpoint file names inside a hub repo.
const (
	ConfigFile  = "config.json"
	WeightsFile = "model.safetensors"
)

// FromPretrained downloads a checkpoint and builds the segmentation
// model with its weights loaded.
func FromPretrained[B tensor.Backend](ctx context.Context, repo string, client *hub.Client, backend B) (*OneFormerForUniversalSegmentation[B], error) {
	paths, err := client.ResolveAll(ctx, repo, []string{ConfigFile, WeightsFile})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", repo, err)
	}

	cfg, err := LoadConfig(paths[0])
	if err != nil {
		return nil, fmt.Errorf("load config for %s: %w", repo, err)
	}

	model, err := NewOneFormerForUniversalSegmentation[B](cfg, backend)
	if err != nil {
		return nil, err
	}

	reader, err := loader.Open(paths[1])
	if err != nil {
		return nil, fmt.Errorf("open weights for %s: %w", repo, err)
	}
	defer reader.Close()

	state, err := reader.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("read weights for %s: %w", repo, err)
	}
	if err := model.LoadStateDict(state); err != nil {
		return nil, fmt.Errorf("load weights for %s: %w", repo, err)
	}
	return model, nil
}

// SavePretrained writes the model config and weights in checkpoint
// layout under dir.
func SavePretrained[B tensor.Backend](m *OneFormerForUniversalSegmentation[B], configPath, weightsPath string) error {
	if err := m.Model.Config.Save(configPath); err != nil {
		return err
	}
	return loader.Write(weightsPath, m.StateDict(), map[string]string{"format": "uniseg"})
}
