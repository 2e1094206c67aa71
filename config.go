package main

import "github.com/stargazingv3/voice-changer/internal/config"

// Re-export the config sub-package's types and functions so the shell code
// in this package reads naturally.

// Config holds all persistent shell preferences.
type Config = config.Config

// LoadConfig loads the config from disk, returning defaults on any error.
func LoadConfig() Config { return config.Load() }

// SaveConfig persists cfg to disk.
func SaveConfig(cfg Config) error { return config.Save(cfg) }
