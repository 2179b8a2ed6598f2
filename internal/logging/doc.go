// Package logging provides structured, context-aware logging built on Zap.
//
// Loggers carry correlation fields (task ID, correlation key, webhook
// delivery ID) extracted from context so every component tags its output
// consistently without threading field lists through call chains.
package logging
