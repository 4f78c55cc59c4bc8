package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/meetscribe/livenotes/internal/generator"
	"github.com/meetscribe/livenotes/internal/notes"
	"github.com/meetscribe/livenotes/internal/server"
	"github.com/meetscribe/livenotes/internal/store"
	"github.com/meetscribe/livenotes/internal/workspace"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Generation struct {
		NotesURL string `yaml:"notes_url"`
		ChatURL  string `yaml:"chat_url"`
	} `yaml:"generation"`
	Notes struct {
		IntervalSeconds     int `yaml:"interval_seconds"`
		InitialDelaySeconds int `yaml:"initial_delay_seconds"`
	} `yaml:"notes"`
	Store struct {
		Backend     string `yaml:"backend"` // "sqlite" or "redis"
		SQLitePath  string `yaml:"sqlite_path"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisPrefix string `yaml:"redis_prefix"`
	} `yaml:"store"`
	SessionLogDir string `yaml:"session_log_dir"`
	SystemPrompt  string `yaml:"system_prompt"`
	LogLevel      string `yaml:"log_level"`
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	config := &Config{}
	if err := loadConfig(configFile, config); err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	applyDefaults(config)

	if level, err := logrus.ParseLevel(config.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	logger := logrus.NewEntry(logrus.StandardLogger())

	db, err := openStore(config)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer db.Close()

	gen := generator.NewWSGenerator(config.Generation.NotesURL, config.Generation.ChatURL, logger)

	wsConfig := workspace.Config{
		Notes: notes.Config{
			Interval:     time.Duration(config.Notes.IntervalSeconds) * time.Second,
			InitialDelay: time.Duration(config.Notes.InitialDelaySeconds) * time.Second,
		},
		SessionLogDir: config.SessionLogDir,
		SystemPrompt:  config.SystemPrompt,
	}

	// Channels are created on first capture connection and live until
	// shutdown.
	var mu sync.Mutex
	channels := make(map[string]*workspace.Channel)
	resolve := func(name string) (server.Sink, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := channels[name]; ok {
			return c, nil
		}
		c := workspace.NewChannel(name, wsConfig, gen, db, logger)
		if err := c.StartRecording(context.Background()); err != nil {
			c.Close()
			return nil, err
		}
		channels[name] = c
		return c, nil
	}

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	srv := server.New(addr, resolve, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.WithError(err).Fatal("Capture server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Capture server shutdown error")
	}

	mu.Lock()
	for _, c := range channels {
		c.Close()
	}
	mu.Unlock()
}

func loadConfig(filename string, config *Config) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	return decoder.Decode(config)
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8765
	}
	if config.Generation.NotesURL == "" {
		config.Generation.NotesURL = "ws://127.0.0.1:8000/ws/notes"
	}
	if config.Generation.ChatURL == "" {
		config.Generation.ChatURL = "ws://127.0.0.1:8000/ws/chat"
	}
	if config.Notes.IntervalSeconds == 0 {
		config.Notes.IntervalSeconds = 20
	}
	if config.Notes.InitialDelaySeconds == 0 {
		config.Notes.InitialDelaySeconds = 5
	}
	if config.Store.Backend == "" {
		config.Store.Backend = "sqlite"
	}
	if config.Store.SQLitePath == "" {
		config.Store.SQLitePath = "livenotes.db"
	}
	if config.Store.RedisAddr == "" {
		config.Store.RedisAddr = "127.0.0.1:6379"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}

func openStore(config *Config) (store.Store, error) {
	switch config.Store.Backend {
	case "redis":
		return store.OpenRedis(config.Store.RedisAddr, config.Store.RedisPrefix)
	case "sqlite":
		return store.OpenSQLite(config.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
}
