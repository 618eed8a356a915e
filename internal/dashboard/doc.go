// Package dashboard serves the bridge status page as an embedded asset.
//
// The page polls /api/v1/status and subscribes to the "events" channel of
// /api/v1/ws, so it only works behind the status server. Unknown paths
// fall back to index.html.
package dashboard
