package rpcprotocol

import "fmt"

// Exporter registers an Invoker under a service-key in the process-wide
// exporter map, removable on Unexport (GLOSSARY, spec §3).
type Exporter struct {
	ServiceKey string
	Invoker    Invoker

	dispatcher *ServerDispatcher
}

// Unexport removes this exporter from its owning dispatcher's map. Safe
// to call more than once.
func (e *Exporter) Unexport() {
	if e.dispatcher != nil {
		e.dispatcher.unexport(e.ServiceKey)
	}
}

func duplicateExportError(key string) error {
	return fmt.Errorf("rpcprotocol: service-key %q already exported", key)
}
