// Package modelquery reads model metadata from the ledger's GraphQL service.
package modelquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// Source resolves model metadata.
type Source interface {
	GetModel(ctx context.Context, id string) (*model.Object, error)
	ListModels(ctx context.Context) ([]model.Object, error)
}

const objectFields = `
  address
  owner { ... on AddressOwner { owner { address } } }
  asMoveObject { contents { json } }`

const getModelQuery = `query GetModel($address: SuiAddress!) {
  object(address: $address) {` + objectFields + `
  }
}`

const listModelsQuery = `query GetModels($type: String!) {
  objects(filter: { type: $type }) {
    nodes {` + objectFields + `
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type objectNode struct {
	Address string `json:"address"`
	Owner   *struct {
		Owner *struct {
			Address string `json:"address"`
		} `json:"owner"`
	} `json:"owner"`
	AsMoveObject *struct {
		Contents *struct {
			JSON json.RawMessage `json:"json"`
		} `json:"contents"`
	} `json:"asMoveObject"`
}

type graphqlResponse struct {
	Data struct {
		Object  *objectNode `json:"object"`
		Objects *struct {
			Nodes []objectNode `json:"nodes"`
		} `json:"objects"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// moveContents shadows the UID, which may be rendered as a string or an object. The node
// address is authoritative.
type moveContents struct {
	model.Object
	ID json.RawMessage `json:"id"`
}

// Client queries a GraphQL endpoint for Model objects published under a package.
type Client struct {
	http      *resty.Client
	url       string
	packageID string
	logger    *zap.Logger
}

var _ Source = (*Client)(nil)

// NewClient creates a client for the GraphQL endpoint at url.
func NewClient(url, packageID string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		http:      resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:       url,
		packageID: packageID,
		logger:    logger,
	}
}

func (c *Client) query(ctx context.Context, query string, vars map[string]any) (*graphqlResponse, error) {
	var out graphqlResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(graphqlRequest{Query: query, Variables: vars}).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("graphql request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("graphql request returned status %d", resp.StatusCode())
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", out.Errors[0].Message)
	}
	return &out, nil
}

// GetModel implements Source. It returns NotFound when no object exists at id.
func (c *Client) GetModel(ctx context.Context, id string) (*model.Object, error) {
	if err := model.ValidateObjectID(id); err != nil {
		return nil, err
	}
	out, err := c.query(ctx, getModelQuery, map[string]any{"address": id})
	if err != nil {
		return nil, err
	}
	if out.Data.Object == nil {
		return nil, errors.NotFound.Explain("model %s not found", id)
	}
	return c.transform(*out.Data.Object)
}

// ListModels implements Source.
func (c *Client) ListModels(ctx context.Context) ([]model.Object, error) {
	out, err := c.query(ctx, listModelsQuery, map[string]any{"type": c.packageID + "::model::Model"})
	if err != nil {
		return nil, err
	}
	if out.Data.Objects == nil {
		return nil, nil
	}
	models := make([]model.Object, 0, len(out.Data.Objects.Nodes))
	for _, node := range out.Data.Objects.Nodes {
		o, err := c.transform(node)
		if err != nil {
			c.logger.Warn("Skipping undecodable model", zap.String("address", node.Address), zap.Error(err))
			continue
		}
		models = append(models, *o)
	}
	return models, nil
}

// transform fills the defaults the metadata service omits for sparse objects.
func (c *Client) transform(node objectNode) (*model.Object, error) {
	o := model.Object{ID: node.Address, Creator: "Unknown"}
	if node.Owner != nil && node.Owner.Owner != nil && node.Owner.Owner.Address != "" {
		o.Creator = node.Owner.Owner.Address
	}

	if node.AsMoveObject != nil && node.AsMoveObject.Contents != nil && len(node.AsMoveObject.Contents.JSON) > 0 {
		var contents moveContents
		if err := json.Unmarshal(node.AsMoveObject.Contents.JSON, &contents); err != nil {
			return nil, fmt.Errorf("decode model %s: %w", node.Address, err)
		}
		creator := o.Creator
		o = contents.Object
		o.Creator = creator
	} else {
		c.logger.Warn("No JSON data found for model", zap.String("address", node.Address))
	}

	o.ID = node.Address
	if o.Name == "" {
		o.Name = "Model " + shortID(node.Address)
	}
	return &o, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
