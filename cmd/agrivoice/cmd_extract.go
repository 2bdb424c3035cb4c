package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agrivoice/internal/config"
	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
	"agrivoice/internal/providers/gemini"
	"agrivoice/internal/rules"
	"agrivoice/internal/slots"
)

type extractFlags struct {
	ai       bool
	photo    string
	location string
}

func newExtractCmd() *cobra.Command {
	var flags extractFlags
	cmd := &cobra.Command{
		Use:   "extract [text]",
		Short: "Extract record fields from a narration or a diary photo",
		Long: "extract runs the local slot extractor on text. With --ai the cloud extractor is used\n" +
			"instead, and --photo reads a photographed diary page.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if flags.photo != "" {
				return runScan(cmd, cfg, flags.photo)
			}
			text := joinArgs(args)
			if text == "" {
				return errors.New("text is required unless --photo is set")
			}
			corrector, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
			if err != nil {
				return err
			}
			corrected, err := corrector.Apply(text)
			if err != nil {
				return fmt.Errorf("failed to correct text: %w", err)
			}
			if flags.ai {
				return runAIExtract(cmd, cfg, text, corrected, flags.location)
			}
			return printLocalExtraction(cmd, corrected, flags.location)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&flags.ai, "ai", false, "Use the cloud extractor (requires a Gemini API key)")
	f.StringVar(&flags.photo, "photo", "", "Path to a diary photo to read")
	f.StringVar(&flags.location, "location", "", "Location the narration refers to")
	return cmd
}

func printLocalExtraction(cmd *cobra.Command, corrected, location string) error {
	extracted := slots.Extract(corrected, nil, domain.Slots{})
	if location != "" && extracted.Location == "" {
		extracted.Location = location
	}
	confidence := slots.Confidence(extracted)
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"slots":      extracted,
		"confidence": confidence,
		"reply":      slots.LocalReply(extracted),
		"admin_log":  slots.AdminLog(extracted, extracted.Location, time.Now().Format(time.DateOnly)),
		"advice":     slots.Advice(extracted, confidence),
	})
}

func geminiClient(cfg config.Config) (*gemini.Client, error) {
	if cfg.Gemini.APIKey == "" {
		return nil, gemini.ErrMissingAPIKey
	}
	return gemini.New(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	}), nil
}

func runAIExtract(cmd *cobra.Command, cfg config.Config, raw, corrected, location string) error {
	client, err := geminiClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Interview.ExtractTimeout)
	defer cancel()
	resp, err := client.Extract(ctx, ports.ExtractionRequest{
		Utterance: raw,
		Corrected: corrected,
		Location:  location,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

func runScan(cmd *cobra.Command, cfg config.Config, path string) error {
	client, err := geminiClient(cfg)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	result, err := client.Scan(cmd.Context(), data, http.DetectContentType(data))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
