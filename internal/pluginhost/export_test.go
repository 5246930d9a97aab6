package pluginhost

// Unregister removes a compiled-in plugin so tests can restore the registry.
var Unregister = unregister
