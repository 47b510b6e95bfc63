// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-kmespread.
//
// go-kmespread is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rest provides the HTTP API of a KME node.
//
// Peers deliver wire envelopes to POST /api/v1/envelopes. Operators drive
// the node through the remaining endpoints:
//
//	POST /api/v1/envelopes   receive an application/octet-stream envelope
//	POST /api/v1/spread      spread to {"destinations":[ids]}
//	PUT  /api/v1/secret      assign the held secret {"secret":"<base64>"}
//	GET  /api/v1/secret      reconstruct; 404 when nothing is recoverable
//	GET  /api/v1/status      node identity and inbox summary
//	GET  /health             basic health
//	GET  /health/live        liveness probe
//	GET  /health/ready       readiness probe
//	GET  /metrics            Prometheus metrics
//
// Every response carries an X-Correlation-ID header. A correlation ID sent
// by the caller is reused so a spread can be followed across nodes in the
// logs.
//
// # Server Setup
//
//	node, _ := kme.New(1, kme.WithInbox(inbox))
//	srv, err := rest.NewServer(&rest.Config{
//	    Address: "127.0.0.1:8443",
//	    Node:    node,
//	    Peers:   peers.Lookup,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
//	defer srv.Stop(context.Background())
package rest
