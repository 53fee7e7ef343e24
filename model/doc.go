// Package model defines the provider-agnostic request descriptor and the
// Provider interface every outbound language-model call goes through.
//
// Core goals:
//   - Keep the request/response shapes minimal and transport independent
//   - Carry optional reasoning controls so the invocation layer can strip them
//   - Normalize token usage reporting across vendors
//   - Facilitate lightweight mocking for tests (MockProvider)
//
// Providers (OpenAI-compatible endpoints, Anthropic) implement Provider in
// sub-packages so higher layers remain decoupled from vendor SDKs.
package model
