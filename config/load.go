package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jessevdk/go-flags"
)

// createDefaultConfigFile creates a config file -- only call this if the
// config file isn't already there
func createDefaultConfigFile(destinationPath string) error {
	dest, err := os.OpenFile(filepath.Join(destinationPath, DefaultConfigFilename),
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	writer := bufio.NewWriter(dest)
	if _, err := writer.WriteString("network=" + DefaultNetwork + "\n"); err != nil {
		return err
	}
	return writer.Flush()
}

// Load builds the config from defaults, the config file in the data
// directory and then args, each overriding the one before. The data
// directory and a default config file are created on first run.
func Load(args []string) (*Config, error) {
	conf := Default()

	// Pre-parse the command line to find the data directory. Errors other
	// than the help message are caught by the final parse.
	preconf := *conf
	preParser := NewConfigParser(&preconf, flags.HelpFlag)
	if _, err := preParser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, err
		}
	}
	conf.DataDir = preconf.DataDir

	if err := os.MkdirAll(conf.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	conf.ConfigFile = filepath.Join(conf.DataDir, DefaultConfigFilename)
	if _, err := os.Stat(conf.ConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfigFile(conf.DataDir); err != nil {
			return nil, fmt.Errorf("create config file: %w", err)
		}
	}

	parser := NewConfigParser(conf, flags.Default&^flags.PrintErrors)
	if err := flags.NewIniParser(parser).ParseFile(conf.ConfigFile); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, fmt.Errorf("%s: %w", conf.ConfigFile, err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if conf.MetricsAddr != "" {
		conf.MetricsAddr = normalizeAddress(conf.MetricsAddr, DefaultMetricsPort)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// normalizeAddress normalizes an address by either setting a missing host to
// localhost or missing port to the default port.
func normalizeAddress(addr, defaultPort string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		// If the address is an integer, then we assume it is *only* a
		// port and default to binding to that port on localhost.
		if _, err := strconv.Atoi(addr); err == nil {
			return net.JoinHostPort("localhost", addr)
		}

		// Otherwise, the address only contains the host so we'll use
		// the default port.
		return net.JoinHostPort(addr, defaultPort)
	}

	return addr
}
