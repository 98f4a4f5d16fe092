// config.go - Haupt-Konfigurationsfunktionen fuer mlxbridge
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (MLXBRIDGE_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (MLXBRIDGE_ORIGINS)
// - LogLevel: Gibt Log-Level zurueck (MLXBRIDGE_DEBUG)
// - Engine/Device: Auswahl von Engine und Default-Device
// - Heartbeat: Intervall fuer Streaming-Heartbeats (MLXBRIDGE_HEARTBEAT)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags und Limits
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via MLXBRIDGE_HOST
// Default: http://127.0.0.1:11500
func Host() *url.URL {
	defaultPort := "11500"

	s := strings.TrimSpace(Var("MLXBRIDGE_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via MLXBRIDGE_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("MLXBRIDGE_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	// Browser-Erweiterungen und eingebettete Webviews
	origins = append(origins,
		"app://*",
		"file://*",
		"vscode-webview://*",
	)

	return origins
}

// Engine gibt den Namen der gewuenschten Engine zurueck
// Konfigurierbar via MLXBRIDGE_ENGINE
// Werte: cpu, mlx, auto (Default). auto nimmt mlx falls verfuegbar.
func Engine() string {
	switch s := strings.ToLower(Var("MLXBRIDGE_ENGINE")); s {
	case "":
		return "auto"
	case "cpu", "mlx", "auto":
		return s
	default:
		slog.Warn("unknown engine, using auto", "engine", s)
		return "auto"
	}
}

// Device gibt das Default-Device als Text zurueck (z.B. "gpu:0")
// Konfigurierbar via MLXBRIDGE_DEVICE
// Leer bedeutet: das bevorzugte Device der Engine
func Device() string {
	return strings.ToLower(Var("MLXBRIDGE_DEVICE"))
}

// Heartbeat gibt das Intervall zwischen Heartbeat-Frames zurueck
// Konfigurierbar via MLXBRIDGE_HEARTBEAT (Dauer oder Sekunden)
// 0 oder negative Werte schalten Heartbeats ab
// Default: 15 Sekunden
func Heartbeat() (heartbeat time.Duration) {
	heartbeat = 15 * time.Second
	if s := Var("MLXBRIDGE_HEARTBEAT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			heartbeat = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			heartbeat = time.Duration(n) * time.Second
		} else {
			slog.Warn("invalid environment variable, using default", "key", "MLXBRIDGE_HEARTBEAT", "value", s, "default", heartbeat)
		}
	}

	if heartbeat < 0 {
		return 0
	}

	return heartbeat
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via MLXBRIDGE_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("MLXBRIDGE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
