// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package builtin

import (
	"github.com/teradata-labs/weft/pkg/tools"
)

// RegisterAll registers every built-in tool into the registry, bound to the
// registry's own guard so path handling stays consistent.
func RegisterAll(registry *tools.Registry) {
	registry.Register(NewHTTPClientTool())
	registry.Register(NewFileReadTool())
	registry.Register(NewFileWriteTool(registry.Guard()))
	registry.Register(NewGrepTool())
	registry.Register(NewCalculatorTool())
}

// Names lists the built-in tool names. The capability gate treats these as
// always-available.
func Names() []string {
	return []string{"http_request", "file_read", "file_write", "grep", "calculator"}
}
