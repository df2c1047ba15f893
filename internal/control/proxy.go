// Package control implements the action invocation proxy and host-side
// dispatcher: the control-point side validates and serialises an action
// call to a service's control URL and parses the response or fault back;
// the host side resolves an inbound POST to a service, deserialises
// arguments, invokes a registered handler, and serialises the result.
package control

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/soapcodec"
	"github.com/upnpgo/upnp/internal/transport"
	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// controlConn serialises invocations against one control URL: at most one
// is in flight against a given service's control URL at a time.
type controlConn struct {
	mu sync.Mutex
}

// Proxy is the control-point side action invocation proxy.
// One Proxy serves every service of a cached remote device; invocations
// are keyed and serialised per control URL, not globally.
type Proxy struct {
	client *transport.Client

	mu    sync.Mutex
	conns map[string]*controlConn
}

// NewProxy builds a Proxy over client.
func NewProxy(client *transport.Client) *Proxy {
	return &Proxy{client: client, conns: make(map[string]*controlConn)}
}

// Invoke validates args against svc/action's SCPD, serialises and submits
// the SOAP request to controlURL, and returns the parsed output arguments.
// altControlURLs, if non-empty, are alternate control URLs for the same
// service (e.g. derived from other LOCATIONs observed via SSDP): only on a
// transport error against controlURL does Invoke retry against each of
// them in turn before giving up.
func (p *Proxy) Invoke(ctx context.Context, svc model.Service, action model.Action, controlURL string, args []model.ArgumentValue, altControlURLs []string) ([]model.ArgumentValue, error) {
	coerced, err := model.ValidateAction(svc, action, args)
	if err != nil {
		return nil, err
	}

	inOrder := make([]soapcodec.Argument, 0, len(action.InArgs))
	for _, decl := range action.InArgs {
		inOrder = append(inOrder, soapcodec.Argument{Name: decl.Name, Value: coerced[decl.Name]})
	}

	candidates := append([]string{controlURL}, altControlURLs...)
	var lastErr error
	for _, target := range candidates {
		out, err := p.invokeOne(ctx, svc.ServiceType.String(), action, target, inOrder)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !upnperr.Is(err, upnperr.KindTransportError) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Proxy) invokeOne(ctx context.Context, serviceType string, action model.Action, controlURL string, inArgs []soapcodec.Argument) ([]model.ArgumentValue, error) {
	conn := p.connFor(controlURL)
	conn.mu.Lock()
	defer conn.mu.Unlock()

	target, err := url.Parse(controlURL)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindMalformedMessage, "invalid control URL", err)
	}
	endpoint, err := endpointFromURL(target)
	if err != nil {
		return nil, err
	}

	body, err := soapcodec.EncodeAction(serviceType, action.Name, inArgs)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(body))
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindInternal, "build action request", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", soapcodec.SOAPAction(serviceType, action.Name))
	req.ContentLength = int64(len(body))

	resp, err := p.client.SendSync(ctx, endpoint, req)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "action request to "+controlURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "read action response", err)
	}

	// A fault's body carries <Fault>, not <ActionNameResponse>; DecodeAction
	// recognises it before comparing the expected element name, so the same
	// call handles both the 200 OK and the fault (normally 500) case.
	outArgs, err := soapcodec.DecodeAction(respBody, action.Name+"Response")
	if err != nil {
		return nil, err
	}
	return toArgumentValues(outArgs), nil
}

func (p *Proxy) connFor(controlURL string) *controlConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[controlURL]
	if !ok {
		c = &controlConn{}
		p.conns[controlURL] = c
	}
	return c
}

func toArgumentValues(args []soapcodec.Argument) []model.ArgumentValue {
	out := make([]model.ArgumentValue, len(args))
	for i, a := range args {
		out[i] = model.ArgumentValue{Name: a.Name, Value: a.Value}
	}
	return out
}

func endpointFromURL(u *url.URL) (upnp.Endpoint, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return upnp.ParseEndpoint(host + ":" + port)
}
