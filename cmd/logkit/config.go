package main

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/dogmatiq/ferrite"
	"github.com/spf13/cobra"
)

// FerriteRegistry is a registry of the environment variables used by logkit.
var FerriteRegistry = ferrite.NewRegistry(
	"dogmatiq.logkit",
	"logkit",
	ferrite.WithDocumentationURL("https://github.com/dogmatiq/logkit#readme"),
)

// storeDSN is the locator of the log store to use when --store is not given.
var storeDSN = ferrite.
	URL("LOGKIT_STORE_DSN", "the locator of the log store").
	Optional(ferrite.WithRegistry(FerriteRegistry))

var logLevel = ferrite.
	String("LOGKIT_LOG_LEVEL", "the minimum level of diagnostic messages").
	WithConstraint(
		"must be one of DEBUG, INFO, WARN or ERROR",
		func(v string) bool {
			_, ok := parseLevel(v)
			return ok
		},
	).
	Optional(ferrite.WithRegistry(FerriteRegistry))

// storeLocator returns the locator of the log store that the command operates on.
func storeLocator(cmd *cobra.Command) (string, error) {
	if loc, _ := cmd.Flags().GetString("store"); loc != "" {
		return loc, nil
	}

	if u, ok := storeDSN.Value(); ok {
		return u.String(), nil
	}

	return "", errors.New("no log store is configured, set LOGKIT_STORE_DSN or provide the --store flag")
}

// debugLevel returns the level given by LOGKIT_LOG_LEVEL, if any.
func debugLevel() (slog.Level, bool) {
	if v, ok := logLevel.Value(); ok {
		return parseLevel(v)
	}
	return 0, false
}

func parseLevel(v string) (slog.Level, bool) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
		return 0, false
	}
	return l, true
}
