// Package strategy 定义请求路由可选择的缓存策略 Profile，并在全局注册表中维护它们。
//
// 内置 Profile 在 init() 中注册：font-cdn、script-cdn 与 generic。三者共享
// cache-first 算法，差异仅在于网络失败时是否提供离线回退，以及哪些响应允许写入缓存。
package strategy
