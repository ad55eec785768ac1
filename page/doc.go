// Package page models the execution realm of a web page: a [goja.Runtime]
// driven by a single event loop, with a window that broadcasts messages and
// a document that scripts can be inserted into.
//
// # Overview
//
// A [Page] is the host for the page's own JavaScript, including its gRPC-Web
// client code. Code outside the realm (the relay, the extension side) never
// shares live objects with it: the only ways across are inserting a script
// element into the [Document], and the [Window] message broadcast, which
// carries plain data only (a structured clone through JSON).
//
// # JavaScript API
//
// [New] binds the following globals:
//
//	window                                  // the global object
//	window.postMessage(data, targetOrigin)  // async broadcast to message listeners
//	window.addEventListener('message', fn)  // fn({type, data, origin, source})
//	window.removeEventListener('message', fn)
//	location.origin, location.href
//	document.createElement('script')        // {tagName, textContent, remove()}
//	document.head.appendChild(el)           // executes el.textContent
//	document.head.removeChild(el)
//	setTimeout(fn, ms, ...args), clearTimeout(id)
//	setInterval(fn, ms, ...args), clearInterval(id)
//	queueMicrotask(fn)
//	console.log/info/warn/error/debug       // optional, see [WithConsole]
//
// # Thread Safety
//
// The runtime is not safe for concurrent use. Everything touching it,
// including message dispatch, runs on the loop goroutine. Use [Page.Submit]
// or [Page.Do] from other goroutines.
package page
