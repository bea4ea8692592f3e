// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the wsaa-ticket
// command.
//
// Configuration is loaded from a single file specified by either the
// WSAA_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. YAML is the native format; files ending in .json or .jsonc
// are accepted and may carry comments.
//
// The file may contain testing and production sections that override
// base values when [Config].Environment matches. A --environment flag
// selects the section through [LoadFileEnvironment].
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${ENVIRONMENT}, and ${VAR:-default} patterns are expanded.
// No environment variable overrides a config value.
//
// This package depends on no other wsaa packages.
package config
