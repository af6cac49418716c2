// Package config merges the config file, STRICT_BACKUP_* environment
// variables and command line flags into one Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/strict-backup/pkg/owners"
)

const EnvPrefix = "STRICT_BACKUP"

var (
	home, _ = os.UserHomeDir()
	// DefaultPath is read when --config is not given. It may be absent.
	DefaultPath = filepath.Join(home, ".config", "strict-backup", "config.yaml")
)

// Keys every command understands. A flag named like the key with dashes
// instead of underscores is bound to it.
var keys = []string{
	"verbosity",
	"force",
	"create_full_path",
	"api_version",
	"remote_schema",
	"user_mapping_file",
	"group_mapping_file",
	"dry_run",
	"plan_json_file",
	"result_json_file",
	"aws_profile",
	"aws_region",
	"repo_exclude",
}

type Config struct {
	Path             string
	Verbosity        int
	Force            bool
	CreateFullPath   bool
	APIVersion       int
	RemoteSchema     string
	UserMappingFile  string
	GroupMappingFile string
	DryRun           bool
	PlanJSONFile     string
	ResultJSONFile   string
	AWSProfile       string
	AWSRegion        string
	RepoExcludes     []string
}

// Load reads the config for cmd. path overrides DefaultPath; a missing
// default file is not an error, a missing explicit one is.
func Load(cmd *cobra.Command, path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigFile(DefaultPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)
		if !missing || path != "" {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for _, key := range keys {
		if f := cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := &Config{
		Verbosity:        v.GetInt("verbosity"),
		Force:            v.GetBool("force"),
		CreateFullPath:   v.GetBool("create_full_path"),
		APIVersion:       v.GetInt("api_version"),
		RemoteSchema:     v.GetString("remote_schema"),
		UserMappingFile:  v.GetString("user_mapping_file"),
		GroupMappingFile: v.GetString("group_mapping_file"),
		DryRun:           v.GetBool("dry_run"),
		PlanJSONFile:     v.GetString("plan_json_file"),
		ResultJSONFile:   v.GetString("result_json_file"),
		AWSProfile:       v.GetString("aws_profile"),
		AWSRegion:        v.GetString("aws_region"),
		RepoExcludes:     v.GetStringSlice("repo_exclude"),
	}
	if v.ConfigFileUsed() != "" {
		if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
			cfg.Path = v.ConfigFileUsed()
		}
	}
	return cfg, nil
}

// Owners reads the mapping files. It returns nil when neither is set.
func (c *Config) Owners() (*owners.Config, error) {
	if c.UserMappingFile == "" && c.GroupMappingFile == "" {
		return nil, nil
	}
	var oc owners.Config
	var err error
	if c.UserMappingFile != "" {
		if oc.UsersMap, err = os.ReadFile(c.UserMappingFile); err != nil {
			return nil, fmt.Errorf("read user mapping file: %w", err)
		}
	}
	if c.GroupMappingFile != "" {
		if oc.GroupsMap, err = os.ReadFile(c.GroupMappingFile); err != nil {
			return nil, fmt.Errorf("read group mapping file: %w", err)
		}
	}
	return &oc, nil
}
