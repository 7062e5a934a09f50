package auth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	maxUsernameBaseLength = 30
	usernameSuffixBytes   = 3 // 6 hex文字
	fallbackUsernameBase  = "user"
)

// usernameBase はメールアドレスのローカル部からusernameの基底を作る。
// ローカル部が使えない場合は表示名から作り、fromEmail=falseを返す。
// 表示名も使えない場合は "user" を返す。
func usernameBase(email, displayName string) (base string, fromEmail bool) {
	local := email
	if at := strings.LastIndex(email, "@"); at >= 0 {
		local = email[:at]
	}
	// user+tag@example.com のタグ部分は識別子に含めない
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}

	if base := sanitizeIdentifier(local); base != "" {
		return base, true
	}
	if base := sanitizeIdentifier(displayName); base != "" {
		return base, false
	}
	return fallbackUsernameBase, false
}

// sanitizeIdentifier は文字列を [a-z0-9_] のみからなる識別子に変換する。
// 区切り記号は "_" にまとめ、それ以外の文字は捨てる。
func sanitizeIdentifier(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '.' || r == '-' || r == ' ':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > maxUsernameBaseLength {
		out = strings.TrimRight(out[:maxUsernameBaseLength], "_")
	}
	return out
}

// usernameCandidate はattempt回目に試すusernameを返す。
// メール由来の基底は最初はそのまま使い、衝突したらランダムな接尾辞を付ける。
// 表示名由来・固定値の基底は常に接尾辞付きになる。
func usernameCandidate(base string, fromEmail bool, attempt int) (string, error) {
	if fromEmail && attempt == 0 {
		return base, nil
	}
	suffix, err := randomHex(usernameSuffixBytes)
	if err != nil {
		return "", err
	}
	return base + "_" + suffix, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
