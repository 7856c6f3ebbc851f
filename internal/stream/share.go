package stream

import "net/url"

const qrImageEndpoint = "https://api.qrserver.com/v1/create-qr-code/"

// ShareURL is the spectator join link for the live match. A tab landing on
// it auto-joins as spectator after the startup delay.
func (c *Coordinator) ShareURL() string {
	if c.matchID == "" {
		return ""
	}
	q := url.Values{}
	q.Set("match", c.matchID)
	q.Set("mode", "spectator")
	return c.baseURL + "?" + q.Encode()
}

// QRImageURL points at a third-party image API rendering the share link;
// the image itself is fetched by the browser, not by this server.
func (c *Coordinator) QRImageURL() string {
	share := c.ShareURL()
	if share == "" {
		return ""
	}
	return qrImageEndpoint + "?size=200x200&data=" + url.QueryEscape(share)
}
