// Package device holds the static catalog of Android device profiles and
// the deterministic account-to-profile mapping. The same account id must map
// to the same profile across restarts so Instagram observes one stable
// device identity.
package device

import (
	"crypto/sha256"
	"math/big"
)

type Profile struct {
	Manufacturer   string `json:"manufacturer"`
	Model          string `json:"model"`
	AndroidVersion int    `json:"android_version"`
	AndroidRelease string `json:"android_release"`
	AppVersion     string `json:"app_version"`
	DPI            string `json:"dpi"`
	Resolution     string `json:"resolution"`
}

// Real-world devices; order matters for the deterministic mapping.
var catalog = []Profile{
	{Manufacturer: "Samsung", Model: "SM-G998B", AndroidVersion: 33, AndroidRelease: "13", AppVersion: "302.1.0.36.111", DPI: "640dpi", Resolution: "1440x3200"},
	{Manufacturer: "Samsung", Model: "SM-S908B", AndroidVersion: 34, AndroidRelease: "14", AppVersion: "305.0.0.34.110", DPI: "600dpi", Resolution: "1440x3088"},
	{Manufacturer: "Google", Model: "Pixel 7 Pro", AndroidVersion: 34, AndroidRelease: "14", AppVersion: "305.0.0.34.110", DPI: "560dpi", Resolution: "1440x3120"},
	{Manufacturer: "Google", Model: "Pixel 8", AndroidVersion: 34, AndroidRelease: "14", AppVersion: "306.0.0.35.109", DPI: "420dpi", Resolution: "1080x2400"},
	{Manufacturer: "OnePlus", Model: "CPH2449", AndroidVersion: 33, AndroidRelease: "13", AppVersion: "302.1.0.36.111", DPI: "450dpi", Resolution: "1240x2772"},
	{Manufacturer: "Xiaomi", Model: "2210132G", AndroidVersion: 33, AndroidRelease: "13", AppVersion: "302.1.0.36.111", DPI: "440dpi", Resolution: "1220x2712"},
	{Manufacturer: "Samsung", Model: "SM-A546B", AndroidVersion: 33, AndroidRelease: "13", AppVersion: "302.1.0.36.111", DPI: "400dpi", Resolution: "1080x2340"},
	{Manufacturer: "Samsung", Model: "SM-G991B", AndroidVersion: 33, AndroidRelease: "13", AppVersion: "305.0.0.34.110", DPI: "560dpi", Resolution: "1080x2400"},
	{Manufacturer: "Google", Model: "Pixel 6a", AndroidVersion: 34, AndroidRelease: "14", AppVersion: "306.0.0.35.109", DPI: "420dpi", Resolution: "1080x2400"},
	{Manufacturer: "OnePlus", Model: "NE2215", AndroidVersion: 34, AndroidRelease: "14", AppVersion: "305.0.0.34.110", DPI: "525dpi", Resolution: "1440x3216"},
}

// Pick selects the profile for an account by reducing the SHA-256 of the
// account id modulo the catalog size.
func Pick(accountID string) Profile {
	sum := sha256.Sum256([]byte(accountID))
	idx := new(big.Int).Mod(
		new(big.Int).SetBytes(sum[:]),
		big.NewInt(int64(len(catalog))),
	).Int64()
	return catalog[idx]
}

// CatalogSize is exposed for tests.
func CatalogSize() int { return len(catalog) }
