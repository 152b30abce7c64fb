package locales

// EsES contains the Spanish message catalog.
var EsES = map[string]string{
	"common.success": "Éxito",

	"slot.claimed":         "Turno reservado",
	"slot.released":        "Turno liberado",
	"slot.transferred":     "Turno transferido",
	"slot.already_held":    "Ese turno ya está ocupado por otro miembro",
	"slot.holder_assigned": "Ya tienes un turno; transfiérelo o libéralo primero",
	"slot.no_assignment":   "No tienes ningún turno asignado",
	"slot.force_released":  "Asignación liberada por el administrador",
	"slot.missed_reset":    "Contador de ausencias restablecido",

	"pause.created":        "Pausa registrada",
	"pause.invalid_window": "El fin de la pausa debe ser posterior a su inicio",
	"pause.overlap":        "Esta pausa se superpone con una pausa existente",

	"preference.updated": "Preferencias de recordatorio actualizadas",

	"compliance.opted_out":        "Ya no recibirás mensajes. Responde START para reanudar.",
	"compliance.opted_in":         "Estás suscrito y recibirás recordatorios.",
	"compliance.settings":         "Recordatorios: {{.Reminders}}. Contenido diario: {{.Daily}}. Avisos: {{.Broadcast}}.",
	"compliance.category_updated": "Preferencia guardada: {{.Category}} ahora está {{.State}}.",
	"compliance.help":             "Comandos: STOP, START, SETTINGS, STOP/START REMINDERS, STOP/START DAILY, STOP/START UPDATES.",
}
