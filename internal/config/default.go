package config

// DefaultFile is written by `ttscache config` when no file exists yet.
const DefaultFile = `# address the HTTP server listens on
listen: ":8000"
# public prefix for audio URLs, e.g. "https://tts.example.com"
base_url: ""
# where synthesized audio is stored (default: user data dir)
# audio_dir: "~/.local/share/ttscache/audio"
# maximum characters per request
max_chars: 3000

cache:
  # when false, every request is synthesized again
  enabled: true

defaults:
  # auto, primary (google) or fallback (piper)
  engine: "auto"
  voice: "en-US-Neural2-F"
  # mp3, ogg or wav
  format: "mp3"

rate_limit:
  # synthesis requests per minute per client IP
  per_minute: 30

cors:
  origins: ["*"]

providers:
  # timeout for one engine call; expiry triggers the offline fallback
  timeout: "30s"

production:
  # timeout for a whole production including fallback and transcoding
  timeout: "2m"

log:
  # debug, info, warn or error
  level: "info"
  # text, json or logfmt
  format: "text"

# Engine binaries and credentials are read from the environment:
#   PIPER_BINARY, PIPER_MODELS_DIR, PIPER_VOICE, FFMPEG_BINARY,
#   FFPROBE_BINARY, GOOGLE_APPLICATION_CREDENTIALS, GOOGLE_TTS_ENDPOINT,
#   GOOGLE_TTS_REQUESTS_PER_MINUTE, TTSCACHE_OFFLINE
`
