//go:build mlx

package core

import _ "github.com/ollama/mlxbridge/engine/mlx"
