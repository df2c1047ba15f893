package control

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/soapcodec"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// Handler executes one action invocation against a resolved service and
// returns its output arguments in the order svc/action declares, or an
// error. It is the registered external collaborator: the dispatcher owns
// SOAP framing, the handler owns device behaviour.
type Handler func(svc model.Service, action model.Action, args map[string]string) ([]model.ArgumentValue, error)

// Dispatcher is the host-side control channel endpoint: it resolves an
// inbound POST to a service via its control URL, deserialises and
// validates arguments, invokes Handler, and serialises either the success
// response or a SOAP fault.
type Dispatcher struct {
	Tree    *model.Tree
	Handler Handler
	Logger  *slog.Logger
}

// NewDispatcher builds a Dispatcher serving tree's services via handler.
func NewDispatcher(tree *model.Tree, handler Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Tree: tree, Handler: handler, Logger: logger}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	svcIdx, err := d.Tree.FindServiceByControlURL(r.URL.Path)
	if err != nil {
		http.Error(w, "no such control endpoint", http.StatusNotFound)
		return
	}
	svc, err := d.Tree.Service(svcIdx)
	if err != nil {
		http.Error(w, "service lookup failed", http.StatusInternalServerError)
		return
	}

	actionName, err := actionNameFromSoapAction(r.Header.Get("SOAPACTION"))
	if err != nil {
		d.writeFault(w, upnperr.Wrap(upnperr.KindMalformedMessage, "invalid SOAPACTION header", err))
		return
	}

	action, ok := svc.FindAction(actionName)
	if !ok {
		d.writeFault(w, upnperr.New(upnperr.KindInvalidArgument, "unknown action: "+actionName))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.writeFault(w, upnperr.Wrap(upnperr.KindMalformedMessage, "read request body", err))
		return
	}

	wireArgs, err := soapcodec.DecodeAction(body, actionName)
	if err != nil {
		d.writeFault(w, err)
		return
	}

	argValues := make([]model.ArgumentValue, len(wireArgs))
	for i, a := range wireArgs {
		argValues[i] = model.ArgumentValue{Name: a.Name, Value: a.Value}
	}

	coerced, err := model.ValidateAction(svc, *action, argValues)
	if err != nil {
		d.writeFault(w, err)
		return
	}

	outArgs, err := d.Handler(svc, *action, coerced)
	if err != nil {
		d.writeFault(w, err)
		return
	}

	respArgs := make([]soapcodec.Argument, len(outArgs))
	for i, a := range outArgs {
		respArgs[i] = soapcodec.Argument{Name: a.Name, Value: a.Value}
	}
	respBody, err := soapcodec.EncodeAction(svc.ServiceType.String(), actionName+"Response", respArgs)
	if err != nil {
		d.writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusOK)
	w.Write(respBody)
}

// writeFault maps err's upnperr.Kind to a SOAP fault body and the fixed
// HTTP 500 status SOAP 1.1 uses for any fault, regardless of taxonomy code.
func (d *Dispatcher) writeFault(w http.ResponseWriter, err error) {
	kind := upnperr.KindActionFailed
	var e *upnperr.Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	code := upnperr.SoapFaultCode(kind)
	d.Logger.Warn("control action failed", "error", err, "fault_code", code)

	body := soapcodec.EncodeFault(code, err.Error())
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusInternalServerError)
	w.Write(body)
}

// actionNameFromSoapAction extracts the action name from a SOAPACTION
// header of the form `"serviceType#actionName"`.
func actionNameFromSoapAction(header string) (string, error) {
	s := header
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '#' {
			return s[i+1:], nil
		}
	}
	return "", upnperr.New(upnperr.KindMalformedMessage, "SOAPACTION missing '#': "+header)
}
