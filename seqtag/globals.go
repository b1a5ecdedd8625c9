package seqtag

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for config discovery and env prefixes
	DefaultAppName     = "seqtag"
	DefaultConfigPath  = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir    = filepath.Join(DefaultConfigPath, ".cache")
	DefaultModelsDir   = filepath.Join("data", "models", "sequenceLabelling")
	DefaultEmbeddingDB = filepath.Join(DefaultCacheDir, "embeddings.db")

	// Pipeline defaults
	DefaultBatchSize         = 24
	DefaultMaxSequenceLength = 300
	DefaultMaxCharLength     = 30
	DefaultCharEmbeddingSize = 25
	DefaultWorkers           = 6
	DefaultSeed              = int64(7)
	DefaultEmbeddingDims     = 300
	DefaultFeaturesVocabSize = 12
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// NewLogger returns GetLogger at the given level. Unknown levels fall back to info.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return GetLogger().Level(lvl)
}
