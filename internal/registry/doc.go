// Package registry 维护系统允许的动作目录。每个动作声明自治等级、
// 风险等级、可逆性与置信度下限，边界门依据这份声明式目录做裁决。
// 目录在进程启动时从 YAML 一次性装载，运行期只读。
package registry
