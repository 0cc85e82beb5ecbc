// Package logx provides structured logging for timesyncd on top of zerolog.
//
// It exposes a small Logger value type that stays live across runtime
// reconfiguration: the Service owns the root zerolog.Logger and swaps
// sinks/levels atomically when Apply() is called, while handed-out Logger
// values keep writing through the current root.
package logx
