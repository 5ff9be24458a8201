// connection/methods.go
package connection

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/deploymenttheory/go-jamfpro-api-client/jamferrors"
	"github.com/deploymenttheory/go-jamfpro-api-client/token"
	"github.com/deploymenttheory/go-jamfpro-api-client/xmlnorm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ensureConnected returns the session's token and classic/jamf-pro clients, or
// InvalidConnectionError when disconnected. Every verb method calls it before
// touching the network.
func (c *Connection) ensureConnected() (*token.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.token == nil {
		return nil, jamferrors.NewInvalidConnectionError("not connected to a Jamf Pro server, use Connect first")
	}
	return c.token, nil
}

// refreshTokenIfNeeded transparently refreshes the token when its remaining
// lifetime has dropped below the refresh buffer. A failed proactive refresh on
// a still-valid token is logged and tolerated; an expired token that cannot be
// refreshed fails the request.
func (c *Connection) refreshTokenIfNeeded(tok *token.Token) error {
	if !tok.NeedsRefresh() {
		return nil
	}
	if _, err := tok.Refresh(); err != nil {
		if tok.Expired() {
			return err
		}
		c.logger().Warn("proactive token refresh failed, continuing with current token", zap.Error(err))
	}
	return nil
}

// classicRequest performs one Classic API round trip and returns the raw
// response body. Non-success statuses classify into an APIError.
func (c *Connection) classicRequest(method, resource, accept, contentType string, body io.Reader) ([]byte, error) {
	tok, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	if err := c.refreshTokenIfNeeded(tok); err != nil {
		return nil, err
	}

	c.mu.Lock()
	endpoint := c.classicBase + "/" + strings.TrimPrefix(resource, "/")
	client := c.classicClient
	c.mu.Unlock()
	// A concurrent Disconnect can drop the client between the connected check
	// and here.
	if client == nil {
		return nil, jamferrors.NewInvalidConnectionError("not connected to a Jamf Pro server, use Connect first")
	}

	requestID := uuid.NewString()
	c.logger().Debug("classic api request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	)

	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.TokenString())
	req.Header.Set("Accept", accept)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, c.logger().Error("classic api request failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
	defer resp.Body.Close()

	c.noteResponse(resp, requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, jamferrors.ClassifyClassicAPIError(resp)
	}

	return io.ReadAll(resp.Body)
}

// noteResponse retains the response for diagnostics and warns when the server
// flags the endpoint deprecated.
func (c *Connection) noteResponse(resp *http.Response, requestID string) {
	c.mu.Lock()
	c.lastHTTPResponse = resp
	c.mu.Unlock()

	if deprecation := resp.Header.Get("Deprecation"); deprecation != "" {
		c.logger().Warn("endpoint is deprecated",
			zap.String("request_id", requestID),
			zap.String("url", resp.Request.URL.String()),
			zap.String("deprecation", deprecation),
		)
	}
}

// Get fetches a Classic API resource as parsed JSON.
func (c *Connection) Get(resource string) (map[string]interface{}, error) {
	body, err := c.classicRequest(http.MethodGet, resource, "application/json", "", nil)
	if err != nil {
		return nil, err
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, jamferrors.NewInvalidDataError("unparseable JSON from %q: %v", resource, err)
	}
	return parsed, nil
}

// GetXML fetches a Classic API resource as its raw XML representation. Used
// for the resource types whose JSON serialization is known to be defective.
func (c *Connection) GetXML(resource string) (string, error) {
	body, err := c.classicRequest(http.MethodGet, resource, "application/xml", "", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetNormalized fetches a Classic API resource as XML and normalizes it
// against the shape template, yielding trustworthy structured data for the
// types whose JSON output omits fields or mis-nests arrays.
func (c *Connection) GetNormalized(resource string, tmpl xmlnorm.Template) (interface{}, error) {
	doc, err := c.GetXML(resource)
	if err != nil {
		return nil, err
	}
	return xmlnorm.NormalizeDocument(doc, tmpl)
}

// Post creates a Classic API resource from an XML body and returns the raw
// response body.
func (c *Connection) Post(resource, xmlBody string) (string, error) {
	return c.classicWrite(http.MethodPost, resource, xmlBody)
}

// Put updates a Classic API resource from an XML body and returns the raw
// response body.
func (c *Connection) Put(resource, xmlBody string) (string, error) {
	return c.classicWrite(http.MethodPut, resource, xmlBody)
}

func (c *Connection) classicWrite(method, resource, xmlBody string) (string, error) {
	payload := XMLHeader + "\n" + EscapeCarriageReturns(xmlBody)
	body, err := c.classicRequest(method, resource, "application/xml", "application/xml", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Delete removes a Classic API resource and returns the raw response body.
func (c *Connection) Delete(resource string) (string, error) {
	body, err := c.classicRequest(http.MethodDelete, resource, "application/xml", "", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// EscapeCarriageReturns converts carriage returns to their XML numeric
// character reference. The Classic server's parser rejects literal CRs in
// write bodies.
func EscapeCarriageReturns(s string) string {
	return strings.ReplaceAll(s, "\r", "&#13;")
}

// jamfProRequest performs one Jamf Pro API round trip with a JSON body and
// returns the raw response body. Non-success statuses classify into a
// JamfProAPIError carrying the structured per-field descriptors.
func (c *Connection) jamfProRequest(method, resource string, body interface{}) ([]byte, error) {
	tok, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	if err := c.refreshTokenIfNeeded(tok); err != nil {
		return nil, err
	}

	c.mu.Lock()
	endpoint := c.jamfProBase + "/" + strings.TrimPrefix(resource, "/")
	client := c.jamfProClient
	c.mu.Unlock()
	if client == nil {
		return nil, jamferrors.NewInvalidConnectionError("not connected to a Jamf Pro server, use Connect first")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, jamferrors.NewInvalidDataError("unmarshalable request body for %q: %v", resource, err)
		}
		reader = bytes.NewReader(payload)
	}

	requestID := uuid.NewString()
	c.logger().Debug("jamf pro api request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	)

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.TokenString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, c.logger().Error("jamf pro api request failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
	defer resp.Body.Close()

	c.noteResponse(resp, requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, jamferrors.ClassifyJamfProAPIError(resp)
	}

	return io.ReadAll(resp.Body)
}

// JamfProGet fetches a Jamf Pro API resource as parsed JSON.
func (c *Connection) JamfProGet(resource string) (map[string]interface{}, error) {
	body, err := c.jamfProRequest(http.MethodGet, resource, nil)
	if err != nil {
		return nil, err
	}

	var parsed map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, jamferrors.NewInvalidDataError("unparseable JSON from %q: %v", resource, err)
		}
	}
	return parsed, nil
}

// JamfProPost creates a Jamf Pro API resource from a JSON-marshalable body.
func (c *Connection) JamfProPost(resource string, body interface{}) (map[string]interface{}, error) {
	return c.jamfProWrite(http.MethodPost, resource, body)
}

// JamfProPut replaces a Jamf Pro API resource from a JSON-marshalable body.
func (c *Connection) JamfProPut(resource string, body interface{}) (map[string]interface{}, error) {
	return c.jamfProWrite(http.MethodPut, resource, body)
}

// JamfProPatch partially updates a Jamf Pro API resource.
func (c *Connection) JamfProPatch(resource string, body interface{}) (map[string]interface{}, error) {
	return c.jamfProWrite(http.MethodPatch, resource, body)
}

func (c *Connection) jamfProWrite(method, resource string, body interface{}) (map[string]interface{}, error) {
	respBody, err := c.jamfProRequest(method, resource, body)
	if err != nil {
		return nil, err
	}
	var parsed map[string]interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, jamferrors.NewInvalidDataError("unparseable JSON from %q: %v", resource, err)
		}
	}
	return parsed, nil
}

// JamfProDelete removes a Jamf Pro API resource.
func (c *Connection) JamfProDelete(resource string) error {
	_, err := c.jamfProRequest(http.MethodDelete, resource, nil)
	return err
}
