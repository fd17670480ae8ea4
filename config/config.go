// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// a type with service configuration parameters
type serviceConfig struct {
	// port on which the service listens
	Port int `yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `yaml:"max_connections"`
	// base directory under which every group's data store lives
	DataDirectory string `yaml:"data_dir"`
	// directory holding the job journal (worker)
	JournalDirectory string `yaml:"journal_dir"`
	// maximum running time of a single transfer job (minutes)
	JobTimeout int `yaml:"job_timeout"`
	// number of jobs a worker process runs concurrently
	Concurrency int `yaml:"concurrency"`
	// per-poll timeout used by progress subscribers (milliseconds)
	ProgressPoll int `yaml:"progress_poll"`
	// set to true to enable debug logging
	Debug bool `yaml:"debug"`
}

// global config variables
var Service serviceConfig
var Auth authConfig
var Directory directoryConfig
var Lims limsConfig
var Redis redisConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service   serviceConfig   `yaml:"service"`
	Auth      authConfig      `yaml:"auth"`
	Directory directoryConfig `yaml:"directory"`
	Lims      limsConfig      `yaml:"lims"`
	Redis     redisConfig     `yaml:"redis"`
}

// This helper locates and reads a configuration file, returning an error
// indicating success or failure. All environment variables of the form
// ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.Service.DataDirectory = "/usr/stores"
	conf.Service.JobTimeout = 240
	conf.Service.Concurrency = 2
	conf.Service.ProgressPoll = 1000
	conf.Auth.Algorithm = "HS256"
	conf.Auth.TokenLifetime = 30
	conf.Auth.Invalidation = "global"
	conf.Directory.GroupAttribute = "cn"
	conf.Directory.UserFilter = "(&(objectclass=inetOrgPerson)(uid=%s))"
	conf.Lims.Timeout = 30
	conf.Redis.Addr = "localhost:6379"
	conf.Redis.Queue = "datastore"
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Auth = conf.Auth
	Directory = conf.Directory
	Lims = conf.Lims
	Redis = conf.Redis

	return err
}

// This helper validates the given service parameters, returning an
// error indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.DataDirectory == "" {
		return fmt.Errorf("No data directory (data_dir) was given")
	}
	if params.JobTimeout <= 0 {
		return fmt.Errorf("Invalid job_timeout: %d (must be positive)", params.JobTimeout)
	}
	if params.Concurrency <= 0 {
		return fmt.Errorf("Invalid concurrency: %d (must be positive)", params.Concurrency)
	}
	if params.ProgressPoll <= 0 {
		return fmt.Errorf("Invalid progress_poll: %d (must be positive)", params.ProgressPoll)
	}
	return nil
}

func validateAuthParameters(params authConfig) error {
	if params.SecretKey == "" {
		return fmt.Errorf("No token signing secret (auth.secret_key) was given")
	}
	switch params.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("Unsupported signing algorithm: %s", params.Algorithm)
	}
	if params.TokenLifetime <= 0 {
		return fmt.Errorf("Invalid token_lifetime: %d (must be positive)", params.TokenLifetime)
	}
	if params.EncryptionKey == "" {
		return fmt.Errorf("No credential encryption key (auth.encryption_key) was given")
	}
	switch params.Invalidation {
	case "global", "audience":
	default:
		return fmt.Errorf("Invalid invalidation policy: %s (must be global or audience)",
			params.Invalidation)
	}
	return nil
}

func validateDirectoryParameters(params directoryConfig) error {
	if params.URL == "" {
		return fmt.Errorf("No directory server URL was given")
	}
	u, err := url.Parse(params.URL)
	if err != nil || (u.Scheme != "ldap" && u.Scheme != "ldaps") {
		return fmt.Errorf("Invalid directory server URL: %s", params.URL)
	}
	if params.Base == "" {
		return fmt.Errorf("No directory search base was given")
	}
	if strings.Count(params.UserFilter, "%s") != 1 {
		return fmt.Errorf("Invalid user_filter: %s (needs exactly one %%s)", params.UserFilter)
	}
	return nil
}

func validateLimsParameters(params limsConfig) error {
	if params.InMemory {
		return nil
	}
	u, err := url.Parse(params.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("Invalid LIMS URL: %s", params.URL)
	}
	if params.Timeout <= 0 {
		return fmt.Errorf("Invalid LIMS timeout: %d (must be positive)", params.Timeout)
	}
	if (params.ServiceUser == "") != (params.ServicePassword == "") {
		return fmt.Errorf("service_user and service_password must be given together")
	}
	return nil
}

func validateRedisParameters(params redisConfig) error {
	if params.Addr == "" {
		return fmt.Errorf("No Redis address was given")
	}
	if params.DB < 0 {
		return fmt.Errorf("Invalid Redis database: %d", params.DB)
	}
	if params.Queue == "" {
		return fmt.Errorf("No job queue name was given")
	}
	return nil
}

// This helper validates the given configfile, returning an error that indicates
// success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}
	err = validateAuthParameters(Auth)
	if err != nil {
		return err
	}
	err = validateDirectoryParameters(Directory)
	if err != nil {
		return err
	}
	err = validateLimsParameters(Lims)
	if err != nil {
		return err
	}
	return validateRedisParameters(Redis)
}

// Initializes the uploader configuration using the given YAML byte data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML file.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}
