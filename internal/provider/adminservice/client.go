// Package adminservice implements provider.Service against the
// Configuration Manager AdminService REST API (OData WMI route).
package adminservice

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/provider"
)

const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is read for the message.
const maxErrorBody = 4096

// Options configures a Client.
type Options struct {
	// BaseURL is the AdminService root, e.g. https://smsprov.corp.local/AdminService
	BaseURL            string
	Username           string
	Password           string
	Timeout            time.Duration
	InsecureSkipVerify bool

	// HTTPClient overrides the transport entirely (tests).
	HTTPClient *http.Client
}

// Client talks to one SMS Provider.
type Client struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
}

var (
	_ provider.Service = (*Client)(nil)
	_ provider.Pinger  = (*Client)(nil)
)

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("adminservice: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("adminservice: invalid base URL: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("adminservice: unsupported URL scheme %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		hc = &http.Client{Timeout: timeout, Transport: transport}
	}

	return &Client{
		base:     base,
		username: opts.Username,
		password: opts.Password,
		http:     hc,
	}, nil
}

// odataList is the envelope of every WMI class query.
type odataList[T any] struct {
	Value []T `json:"value"`
}

type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (c *Client) classURL(class string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/wmi/" + class
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, class string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", class, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.classURL(class, query), reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", class, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, class, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var oe odataError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &oe) == nil && oe.Error.Message != "" {
			msg = oe.Error.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s returned HTTP %d: %s", method, class, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", class, err)
	}
	return nil
}

func (c *Client) query(ctx context.Context, class, filter string, out any) error {
	q := url.Values{}
	if filter != "" {
		q.Set("$filter", filter)
	}
	return c.do(ctx, http.MethodGet, class, q, nil, out)
}

// Ping issues a minimal site query.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{"$top": {"1"}, "$select": {"SiteCode"}}
	return c.do(ctx, http.MethodGet, "SMS_Site", q, nil, &odataList[json.RawMessage]{})
}

type wmiApplication struct {
	LocalizedDisplayName string `json:"LocalizedDisplayName"`
	ModelName            string `json:"ModelName"`
	SoftwareVersion      string `json:"SoftwareVersion"`
	PackageID            string `json:"PackageID"`
}

type wmiUpdateGroup struct {
	LocalizedDisplayName   string `json:"LocalizedDisplayName"`
	CIID                   int64  `json:"CI_ID"`
	NumberOfUpdates        int    `json:"NumberOfUpdates"`
	NumberOfExpiredUpdates int    `json:"NumberOfExpiredUpdates"`
}

// LookupDeployable implements provider.Service.
func (c *Client) LookupDeployable(ctx context.Context, name string, kind deploy.Kind) (*deploy.Deployable, error) {
	switch kind {
	case deploy.KindApplication:
		var res odataList[wmiApplication]
		if err := c.query(ctx, "SMS_ApplicationLatest", "LocalizedDisplayName eq "+quote(name), &res); err != nil {
			return nil, err
		}
		if len(res.Value) == 0 {
			return nil, nil
		}
		a := res.Value[0]
		return deploy.NewApplication(a.LocalizedDisplayName, a.ModelName, a.SoftwareVersion, a.PackageID), nil

	case deploy.KindUpdateGroup:
		var res odataList[wmiUpdateGroup]
		if err := c.query(ctx, "SMS_AuthorizationList", "LocalizedDisplayName eq "+quote(name), &res); err != nil {
			return nil, err
		}
		if len(res.Value) == 0 {
			return nil, nil
		}
		g := res.Value[0]
		return deploy.NewUpdateGroup(g.LocalizedDisplayName, fmt.Sprintf("%d", g.CIID),
			g.NumberOfUpdates, g.NumberOfExpiredUpdates), nil
	}
	return nil, fmt.Errorf("unsupported deployable kind %q", kind)
}

// WMI CollectionType values.
const (
	collectionTypeUser   = 1
	collectionTypeDevice = 2
)

type wmiCollection struct {
	Name           string `json:"Name"`
	CollectionID   string `json:"CollectionID"`
	CollectionType int    `json:"CollectionType"`
	MemberCount    int    `json:"MemberCount"`
}

// LookupCollection implements provider.Service.
func (c *Client) LookupCollection(ctx context.Context, name string) (*deploy.Collection, error) {
	var res odataList[wmiCollection]
	if err := c.query(ctx, "SMS_Collection", "Name eq "+quote(name), &res); err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}

	w := res.Value[0]
	col := &deploy.Collection{Name: w.Name, ID: w.CollectionID, MemberCount: w.MemberCount}
	switch w.CollectionType {
	case collectionTypeDevice:
		col.Kind = deploy.CollectionDevice
	case collectionTypeUser:
		col.Kind = deploy.CollectionUser
	default:
		col.Kind = deploy.CollectionKind(fmt.Sprintf("Unknown(%d)", w.CollectionType))
	}
	return col, nil
}

type wmiContentInfo struct {
	Targeted         int `json:"Targeted"`
	NumberSuccess    int `json:"NumberSuccess"`
	NumberInProgress int `json:"NumberInProgress"`
	NumberErrors     int `json:"NumberErrors"`
}

// DistributionStatus implements provider.Service. Rows for the same
// content are summed.
func (c *Client) DistributionStatus(ctx context.Context, contentID string) (*deploy.DistributionStatus, error) {
	var res odataList[wmiContentInfo]
	if err := c.query(ctx, "SMS_ObjectContentExtraInfo", "ObjectID eq "+quote(contentID), &res); err != nil {
		return nil, err
	}

	st := &deploy.DistributionStatus{}
	for _, row := range res.Value {
		st.Targeted += row.Targeted
		st.Success += row.NumberSuccess
		st.InProgress += row.NumberInProgress
		st.Errors += row.NumberErrors
	}
	return st, nil
}

// ExistingDeployments implements provider.Service.
func (c *Client) ExistingDeployments(ctx context.Context, deployableName, collectionName string) (int, error) {
	var res odataList[json.RawMessage]
	filter := "SoftwareName eq " + quote(deployableName) + " and CollectionName eq " + quote(collectionName)
	if err := c.query(ctx, "SMS_DeploymentSummary", filter, &res); err != nil {
		return 0, err
	}
	return len(res.Value), nil
}

// Offer types.
const (
	offerRequired  = 0
	offerAvailable = 2
)

// assignment is the POST body shared by application and update group
// assignments; the zero-valued fields for the other kind are omitted.
type assignment struct {
	AssignmentName                string  `json:"AssignmentName"`
	AssignmentDescription         string  `json:"AssignmentDescription,omitempty"`
	ApplicationName               string  `json:"ApplicationName,omitempty"`
	AssignedUpdateGroup           string  `json:"AssignedUpdateGroup,omitempty"`
	TargetCollectionID            string  `json:"TargetCollectionID"`
	CollectionName                string  `json:"CollectionName"`
	OfferTypeID                   int     `json:"OfferTypeID"`
	StartTime                     string  `json:"StartTime"`
	EnforcementDeadline           *string `json:"EnforcementDeadline,omitempty"`
	NotifyUser                    bool    `json:"NotifyUser"`
	UserUIExperience              bool    `json:"UserUIExperience"`
	OverrideServiceWindows        bool    `json:"OverrideServiceWindows"`
	RebootOutsideOfServiceWindows bool    `json:"RebootOutsideOfServiceWindows"`
	UseMeteredNetwork             bool    `json:"UseMeteredNetwork"`
	ProtectedType                 string  `json:"ProtectedType,omitempty"`
	UnprotectedType               string  `json:"UnprotectedType,omitempty"`
}

type assignmentResult struct {
	AssignmentID       int64  `json:"AssignmentID"`
	AssignmentUniqueID string `json:"AssignmentUniqueID"`
}

// CreateDeployment implements provider.Service.
func (c *Client) CreateDeployment(ctx context.Context, req *provider.DeploymentRequest) (string, error) {
	body := assignment{
		AssignmentName:                req.DeployableName + "_" + req.CollectionName,
		AssignmentDescription:         req.Comment,
		TargetCollectionID:            req.CollectionID,
		CollectionName:                req.CollectionName,
		OfferTypeID:                   offerAvailable,
		StartTime:                     req.AvailableAt.UTC().Format(time.RFC3339),
		OverrideServiceWindows:        req.OverrideServiceWindow,
		RebootOutsideOfServiceWindows: req.RebootOutsideServiceWindow,
		UseMeteredNetwork:             req.AllowMeteredConnection,
	}
	if req.Purpose == deploy.PurposeRequired {
		body.OfferTypeID = offerRequired
	}
	if req.DeadlineAt != nil {
		deadline := req.DeadlineAt.UTC().Format(time.RFC3339)
		body.EnforcementDeadline = &deadline
	}

	switch req.Notification {
	case deploy.NotifyDisplayAll:
		body.NotifyUser, body.UserUIExperience = true, true
	case deploy.NotifyDisplaySoftwareCenterOnly:
		body.UserUIExperience = true
	}

	if req.DownloadPolicy != nil {
		body.ProtectedType = req.DownloadPolicy.Protected
		body.UnprotectedType = req.DownloadPolicy.Unprotected
	}

	class := "SMS_ApplicationAssignment"
	switch req.Kind {
	case deploy.KindApplication:
		body.ApplicationName = req.DeployableName
	case deploy.KindUpdateGroup:
		class = "SMS_UpdateGroupAssignment"
		body.AssignedUpdateGroup = req.DeployableID
	default:
		return "", fmt.Errorf("unsupported deployable kind %q", req.Kind)
	}

	var res assignmentResult
	if err := c.do(ctx, http.MethodPost, class, nil, body, &res); err != nil {
		return "", err
	}
	if res.AssignmentUniqueID != "" {
		return res.AssignmentUniqueID, nil
	}
	if res.AssignmentID != 0 {
		return fmt.Sprintf("%d", res.AssignmentID), nil
	}
	return "", fmt.Errorf("POST %s returned no assignment ID", class)
}
