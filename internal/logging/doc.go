// Package logging configures structured slog output for wikisearch.
//
// Records are JSON encoded. They always go to stderr unless disabled, and
// optionally to a size-rotated file under ~/.wikisearch/logs/. The --debug
// flag lowers the level to debug and turns on the file sink.
package logging
