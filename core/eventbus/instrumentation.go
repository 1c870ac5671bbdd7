package eventbus

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/parley-ai/parley-core/core/eventbus"

var logger = otelslog.NewLogger(scopeName)
