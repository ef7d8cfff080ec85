package server

import (
	"time"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/edge"
)

func newEdgeProbe(baseURL string) *edge.Probe {
	return edge.NewProbe(edge.Config{
		IdentityURL: baseURL + "/cdn-cgi/access/get-identity",
		Timeout:     time.Second,
	}, nil, nil)
}
