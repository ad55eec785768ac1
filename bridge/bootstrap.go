package bridge

import (
	"strings"
	"text/template"
)

// bootstrapTemplate is the one-shot script inserted into the page. It only
// depends on the constants rendered into it: it captures the native handle,
// removes it from the global object, and defines the factory.
var bootstrapTemplate = template.Must(template.New("bootstrap").Parse(`(function (handleKey, globalName, source) {
	"use strict";
	var create = globalThis[handleKey];
	delete globalThis[handleKey];
	if (typeof create !== "function") {
		throw new TypeError("devtools bootstrap: native handle is missing");
	}
	var factory = function () {
		return create();
	};
	Object.defineProperty(factory, "source", {value: source});
	Object.defineProperty(globalThis, globalName, {
		value: factory,
		writable: true,
		configurable: true,
		enumerable: false
	});
})("{{js .HandleKey}}", "{{js .GlobalName}}", "{{js .Source}}");
`))

type bootstrapData struct {
	HandleKey  string
	GlobalName string
	Source     string
}

func renderBootstrap(data bootstrapData) (string, error) {
	var b strings.Builder
	if err := bootstrapTemplate.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
