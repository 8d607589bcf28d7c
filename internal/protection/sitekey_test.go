package protection

import "testing"

func TestExtractSiteKey(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		challenge ChallengeType
		want      string
		wantErr   bool
	}{
		{
			name:      "Turnstile DOM属性",
			html:      `<div class="cf-turnstile" data-sitekey="0x4AAAAAAADnPIDROzbs0Aaj"></div>`,
			challenge: ChallengeTurnstile,
			want:      "0x4AAAAAAADnPIDROzbs0Aaj",
		},
		{
			name:      "hCaptcha DOM属性",
			html:      `<div class="h-captcha" data-sitekey="10000000-ffff-ffff-ffff-000000000001"></div>`,
			challenge: ChallengeHCaptcha,
			want:      "10000000-ffff-ffff-ffff-000000000001",
		},
		{
			name:      "reCAPTCHA iframe回退",
			html:      `<iframe src="https://www.google.com/recaptcha/api2/anchor?ar=1&k=6LdyC2cUAAAAACGuDKpXeDorzUDWXmdqeg-xy696&co=aHR0"></iframe>`,
			challenge: ChallengeRecaptchaV2,
			want:      "6LdyC2cUAAAAACGuDKpXeDorzUDWXmdqeg-xy696",
		},
		{
			name:      "脚本文本回退",
			html:      `<script>grecaptcha.render('el', { sitekey: '6LcScriptKeyAAAAAAAA' });</script>`,
			challenge: ChallengeRecaptchaV2,
			want:      "6LcScriptKeyAAAAAAAA",
		},
		{
			name:      "v3 render参数回退",
			html:      `<script src="https://www.google.com/recaptcha/api.js?render=6LcRenderKey12345678"></script>`,
			challenge: ChallengeRecaptchaV3,
			want:      "6LcRenderKey12345678",
		},
		{
			name:      "无key可提取",
			html:      `<html><body><p>nothing here</p></body></html>`,
			challenge: ChallengeTurnstile,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSiteKey(tt.html, tt.challenge)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("期望错误,实际得到key %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractSiteKey() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractSiteKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
