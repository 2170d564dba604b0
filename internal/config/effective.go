package config

import "github.com/go-viper/mapstructure/v2"

// EffectiveConfig is the frozen, resolved configuration for one document:
// global defaults overridden by the dataset's knowledge-base config,
// overridden again by the document's own parser_config. It is computed
// once at orchestrator entry and passed by reference through the
// pipeline, replacing the teacher's process-wide configuration
// singletons with an explicit, dependency-injected value (per spec.md §9).
type EffectiveConfig struct {
	Chunking ChunkingConfig
	Excel    ExcelConfig
	Pipeline PipelineConfig
}

// Resolve builds an EffectiveConfig by layering kbParserConfig then
// docParserConfig on top of the global defaults in cfg. Both overlays are
// optional free-form maps (as produced by the metadata store's
// parser_config JSON columns) and are merged with mapstructure so callers
// never need to hand-write per-field overrides.
func Resolve(cfg *Config, kbParserConfig, docParserConfig map[string]any) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		Chunking: cfg.Chunking,
		Excel:    cfg.Excel,
		Pipeline: cfg.Pipeline,
	}

	for _, overlay := range []map[string]any{kbParserConfig, docParserConfig} {
		if len(overlay) == 0 {
			continue
		}
		if v, ok := overlay["chunking"]; ok {
			if err := decodeInto(v, &eff.Chunking); err != nil {
				return EffectiveConfig{}, err
			}
		}
		if v, ok := overlay["excel"]; ok {
			if err := decodeInto(v, &eff.Excel); err != nil {
				return EffectiveConfig{}, err
			}
		}
		if v, ok := overlay["pipeline"]; ok {
			if err := decodeInto(v, &eff.Pipeline); err != nil {
				return EffectiveConfig{}, err
			}
		}
	}

	if err := eff.Chunking.Validate(); err != nil {
		return EffectiveConfig{}, err
	}
	eff.Excel.setDefaults()
	eff.Pipeline.setDefaults()
	return eff, nil
}

func decodeInto(src any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(src)
}
