package ftp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
)

// PublicIpUrl is the url to get the public ip of the server
var PublicIpUrl = "https://api.ipify.org"

// GetServerPublicIP asks ipify for the address this host is seen as. It is
// used to fill the PASV host when none is configured.
func GetServerPublicIP(ctx context.Context) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, PublicIpUrl, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error getting public ip: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error getting public ip: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("error getting public ip: %s", res.Status)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 64))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error reading public ip: %w", err)
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing public ip: %w", err)
	}
	return addr, nil
}
