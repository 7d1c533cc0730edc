/*
 * @author: sun977
 * @date: 2026.10.15
 * @description: 主程序入口
 */

package main

func main() {
	Execute()
}
