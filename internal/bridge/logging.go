package bridge

import "github.com/rs/zerolog"

// zlog is an optional structured logger. If unset, the bridge stays silent.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used for setup summaries and
// teardown notices.
func SetLogger(l zerolog.Logger) { zlog = &l }
