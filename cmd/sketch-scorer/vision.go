package main

import (
	"fmt"

	"github.com/menta2k/sketch-scorer/internal/config"
	"github.com/menta2k/sketch-scorer/pkg/client"
	"github.com/menta2k/sketch-scorer/pkg/guess"
	"github.com/menta2k/sketch-scorer/pkg/llamacpp"
	"github.com/menta2k/sketch-scorer/pkg/ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// newVisionClient creates the client for the configured backend
func newVisionClient(vc config.VisionConfig) (client.VisionClient, error) {
	switch vc.Backend {
	case "ollama":
		url := vc.URL
		if url == "" {
			url = defaultOllamaURL
		}
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(vc.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	case "":
		return nil, fmt.Errorf("no vision backend configured (use --backend ollama or llamacpp)")
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", vc.Backend)
	}
}

func newGuesser(vc config.VisionConfig) (*guess.Guesser, error) {
	c, err := newVisionClient(vc)
	if err != nil {
		return nil, err
	}
	g := guess.NewGuesser(c)
	g.SetImageOptions(vc.MaxDim, 0)
	return g, nil
}
