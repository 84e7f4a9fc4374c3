package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLooksLikeLogin(t *testing.T) {
	t.Parallel()

	require.True(t, LooksLikeLogin(`<script>location.replace("https://passport.weibo.com/visitor/visitor")</script>`))
	require.True(t, LooksLikeLogin(`<title>Sina Visitor System</title>`))
	require.False(t, LooksLikeLogin(resultPage))
	require.False(t, LooksLikeLogin("   "))
}

func TestIsLoginURL(t *testing.T) {
	t.Parallel()

	require.True(t, IsLoginURL("https://passport.weibo.com/sso/signin"))
	require.True(t, IsLoginURL("https://weibo.com/newlogin?url=x"))
	require.True(t, IsLoginURL("https://login.sina.com.cn/"))
	require.False(t, IsLoginURL("https://s.weibo.com/weibo?q=x"))
	require.False(t, IsLoginURL("::bad"))
}
