// Package llm provides text generators for movement analysis.
//
// Three providers are available:
//
//   - gemini: Google Gemini through google.golang.org/genai
//   - openai: any OpenAI-compatible chat completions endpoint
//   - static: a fixed reply, for development and tests
//
// All generators satisfy analysis.Generator. They make a single request per
// call; retries belong to the analysis package.
//
// # Configuration
//
//	llm:
//	  provider: static     # gemini, openai, static
//	  model: ""            # provider default when empty
//	  base_url: ""         # openai-compatible endpoints only
//	  timeout: 60s         # per request
//	  static_response: ""
//
// The API key comes from MOTIONCORE_LLM_API_KEY.
package llm
