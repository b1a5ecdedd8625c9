package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/seqtag/seqtag"
	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/generator"
	"github.com/ZanzyTHEbar/seqtag/seqtag/model"
)

// Config stores all configuration of a labelling run.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Model      ModelConfig      `mapstructure:"model"`
	Training   TrainingConfig   `mapstructure:"training"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Tokenizer  TokenizerConfig  `mapstructure:"tokenizer"`
	Log        LogConfig        `mapstructure:"log"`
}

// ModelConfig describes the architecture and its input sizes.
type ModelConfig struct {
	Architecture           string `mapstructure:"architecture"`
	Transformer            string `mapstructure:"transformer"`
	EmbeddingsName         string `mapstructure:"embeddings_name"`
	Dir                    string `mapstructure:"dir"`
	MaxSequenceLength      int    `mapstructure:"max_sequence_length"`
	MaxCharLength          int    `mapstructure:"max_char_length"`
	CharEmbeddingSize      int    `mapstructure:"char_embedding_size"`
	FeaturesIndices        []int  `mapstructure:"features_indices"`
	FeaturesVocabularySize int    `mapstructure:"features_vocabulary_size"`
	FoldNumber             int    `mapstructure:"fold_number"`
	ExecutionProvider      string `mapstructure:"execution_provider"`
	DeviceID               int    `mapstructure:"device_id"`
}

// TrainingConfig stores batching and epoch settings.
type TrainingConfig struct {
	BatchSize  int    `mapstructure:"batch_size"`
	MaxEpoch   int    `mapstructure:"max_epoch"`
	Patience   int    `mapstructure:"patience"`
	EarlyStop  bool   `mapstructure:"early_stop"`
	Shuffle    bool   `mapstructure:"shuffle"`
	Seed       int64  `mapstructure:"seed"`
	Workers    int    `mapstructure:"workers"`
	Prefetch   int    `mapstructure:"prefetch"`
	Truncation string `mapstructure:"truncation"`
}

// EmbeddingsConfig selects the static word vector provider.
type EmbeddingsConfig struct {
	Provider string `mapstructure:"provider"`
	Dims     int    `mapstructure:"dims"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
}

// TokenizerConfig selects the sub-word tokenizer of transformer architectures.
type TokenizerConfig struct {
	Kind      string `mapstructure:"kind"`
	VocabPath string `mapstructure:"vocab_path"`
	ModelPath string `mapstructure:"model_path"`
	Lowercase bool   `mapstructure:"lowercase"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads configuration from file or environment variables and validates it.
// Each call uses its own viper instance, so loading never touches process-wide state.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", seqtag.DefaultAppName))
		v.AddConfigPath(seqtag.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	setDefaults(v)

	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // model.max_sequence_length becomes MODEL_MAX_SEQUENCE_LENGTH

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.architecture", "BidLSTM_CRF")
	v.SetDefault("model.transformer", "")
	v.SetDefault("model.embeddings_name", "glove-840B")
	v.SetDefault("model.dir", seqtag.DefaultModelsDir)
	v.SetDefault("model.max_sequence_length", seqtag.DefaultMaxSequenceLength)
	v.SetDefault("model.max_char_length", seqtag.DefaultMaxCharLength)
	v.SetDefault("model.char_embedding_size", seqtag.DefaultCharEmbeddingSize)
	v.SetDefault("model.features_indices", []int{})
	v.SetDefault("model.features_vocabulary_size", seqtag.DefaultFeaturesVocabSize)
	v.SetDefault("model.fold_number", 1)
	v.SetDefault("model.execution_provider", "cpu")
	v.SetDefault("model.device_id", 0)

	v.SetDefault("training.batch_size", seqtag.DefaultBatchSize)
	v.SetDefault("training.max_epoch", 50)
	v.SetDefault("training.patience", 5)
	v.SetDefault("training.early_stop", true)
	v.SetDefault("training.shuffle", true)
	v.SetDefault("training.seed", seqtag.DefaultSeed)
	v.SetDefault("training.workers", seqtag.DefaultWorkers)
	v.SetDefault("training.prefetch", 2*seqtag.DefaultWorkers)
	v.SetDefault("training.truncation", "front")

	v.SetDefault("embeddings.provider", "hash")
	v.SetDefault("embeddings.dims", seqtag.DefaultEmbeddingDims)
	v.SetDefault("embeddings.path", "")
	v.SetDefault("embeddings.dsn", seqtag.DefaultEmbeddingDB)

	v.SetDefault("tokenizer.kind", "wordpiece")
	v.SetDefault("tokenizer.vocab_path", "")
	v.SetDefault("tokenizer.model_path", "")
	v.SetDefault("tokenizer.lowercase", true)

	v.SetDefault("log.level", "info")
}

// Validate resolves the architecture through the model registry and checks every size.
func (c *Config) Validate() error {
	variant, err := model.Lookup(c.Model.Architecture)
	if err != nil {
		return err
	}
	positive := []struct {
		field string
		value int
	}{
		{"max_sequence_length", c.Model.MaxSequenceLength},
		{"max_char_length", c.Model.MaxCharLength},
		{"fold_number", c.Model.FoldNumber},
		{"batch_size", c.Training.BatchSize},
		{"workers", c.Training.Workers},
		{"prefetch", c.Training.Prefetch},
		{"embeddings.dims", c.Embeddings.Dims},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return common.NewConfigurationError(p.field, "must be positive, got %d", p.value)
		}
	}
	if variant.ReturnFeatures() && c.Model.FeaturesVocabularySize <= 0 {
		return common.NewConfigurationError("features_vocabulary_size", "%s needs a positive features vocabulary size", variant.Name)
	}
	if variant.Transformer && c.Model.MaxSequenceLength < 2 {
		return common.NewConfigurationError("max_sequence_length", "%s needs room for the two marker pieces", variant.Name)
	}
	if _, err := generator.ParseTruncation(c.Training.Truncation); err != nil {
		return err
	}
	switch c.Embeddings.Provider {
	case "hash", "memory", "libsql":
	default:
		return common.NewConfigurationError("embeddings.provider", "unknown provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "memory" && c.Embeddings.Path == "" {
		return common.NewConfigurationError("embeddings.path", "the memory provider needs a vectors file")
	}
	if variant.Transformer {
		switch c.Tokenizer.Kind {
		case "wordpiece", "sugarme":
			if c.Tokenizer.VocabPath == "" {
				return common.NewConfigurationError("tokenizer.vocab_path", "%s needs a vocabulary file", variant.Name)
			}
		case "sentencepiece":
			if c.Tokenizer.ModelPath == "" {
				return common.NewConfigurationError("tokenizer.model_path", "%s needs a sentencepiece model", variant.Name)
			}
		default:
			return common.NewConfigurationError("tokenizer.kind", "unknown tokenizer %q", c.Tokenizer.Kind)
		}
	}
	return nil
}

// Variant returns the registered architecture.
func (c *Config) Variant() (model.Variant, error) {
	return model.Lookup(c.Model.Architecture)
}

// Truncation returns the parsed truncation policy.
func (c *Config) Truncation() generator.Truncation {
	t, _ := generator.ParseTruncation(c.Training.Truncation)
	return t
}

// ONNXOptions returns the runtime settings of the exported network.
func (c *Config) ONNXOptions() model.ONNXOptions {
	return model.ONNXOptions{
		ExecutionProvider: model.NormalizeExecutionProvider(c.Model.ExecutionProvider),
		DeviceID:          c.Model.DeviceID,
	}
}

// Logger returns a logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	return seqtag.NewLogger(c.Log.Level)
}
