// Package mediacache はメッセージに含まれるメディアをローカルに保存し、
// 正規化したURLをキーとするマッピングで実行をまたいで再利用する。
package mediacache

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// signedDomains は署名付きURLを発行するCDNの登録可能ドメイン。
var signedDomains = map[string]struct{}{
	"discordapp.com": {},
	"discordapp.net": {},
	"discord.com":    {},
}

// signingParams はURLの有効期限ごとに変わる署名パラメータ。
var signingParams = []string{"ex", "is", "hm"}

// CanonicalKey はキャッシュのキーとなる正規化URLを返す。
// 署名付きCDNのURLは署名パラメータとフラグメントを除去し、再発行されたURLを同じキーにまとめる。
// それ以外のURLと解析できないURLはそのまま返す。
func CanonicalKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return rawURL
	}
	if _, ok := signedDomains[domain]; !ok {
		return rawURL
	}

	q := u.Query()
	for _, p := range signingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
