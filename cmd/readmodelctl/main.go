// Команда readmodelctl обслуживает коллекции read-моделей: проверка доступности,
// подсчет документов, переименование полей, очистка и диагностика таймаутов сокета.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand(newApp())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
